package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartPosition is an ephemeral reservation row: one unit of one product
// held for one cart until Expires. Once the expiry passes the position is
// either re-extended (if the buyer is still active and capacity remains) or
// deleted.
//
// Add-on and bundled positions reference their parent via AddonToID and are
// cascade-deleted with it. Positions are exclusively owned by their cart;
// other carts only ever affect them indirectly through shared quota,
// voucher and seat counters.
type CartPosition struct {
	ID      uuid.UUID
	EventID uuid.UUID

	// CartID is the session or guest token owning this reservation.
	CartID string

	ProductID   uuid.UUID
	VariationID *uuid.UUID
	SubEventID  *uuid.UUID

	// Price is the gross price of this line.
	Price   decimal.Decimal
	Expires time.Time

	VoucherID *uuid.UUID
	SeatID    *uuid.UUID

	// AddonToID links add-on and bundled positions to their parent.
	AddonToID *uuid.UUID

	// IsBundled marks positions created automatically as part of a bundle,
	// as opposed to add-ons the buyer selected.
	IsBundled bool

	// IncludesTax is false for reverse-charge style sales where the stored
	// price is a net price.
	IncludesTax bool

	OverrideTaxRate *decimal.Decimal

	// PriceBeforeVoucher preserves the undiscounted price so vouchers can
	// be removed or re-evaluated later.
	PriceBeforeVoucher *decimal.Decimal
}

// Expired reports whether the reservation has lapsed at now.
func (p *CartPosition) Expired(now time.Time) bool {
	return !p.Expires.After(now)
}
