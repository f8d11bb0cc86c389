package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Voucher price modes.
const (
	VoucherPriceModeNone     = "none"     // no price effect
	VoucherPriceModeSet      = "set"      // price is replaced by Value
	VoucherPriceModeSubtract = "subtract" // Value is subtracted, floored at zero
	VoucherPriceModePercent  = "percent"  // Value percent discount
)

// Voucher is a redeemable code with a usage ceiling. It may be scoped to a
// product, a variation, a quota, a seat or a sub-event, and may change the
// price of what it is applied to.
type Voucher struct {
	ID       uuid.UUID
	EventID  uuid.UUID
	Code     string
	MaxUsages int

	// Redeemed counts confirmed redemptions (orders). Reservations in other
	// live carts are counted separately at commit time.
	Redeemed int

	ValidUntil *time.Time

	// Scoping: a voucher applies to exactly one product/variation, to every
	// product attached to one quota, or to everything when unscoped.
	ProductID   *uuid.UUID
	VariationID *uuid.UUID
	QuotaID     *uuid.UUID
	SeatID      *uuid.UUID
	SubEventID  *uuid.UUID

	PriceMode string
	Value     decimal.Decimal

	// AllowIgnoreQuota sells even when quotas are exhausted. BlockQuota
	// means the voucher holds its own reserved capacity, so positions
	// carrying it do not consume the shared quota either.
	AllowIgnoreQuota   bool
	BlockQuota         bool
	ShowHiddenProducts bool

	// QuotaProductIDs lists the products attached to QuotaID, preloaded by
	// the store so AppliesTo never needs a query.
	QuotaProductIDs []uuid.UUID
}

// IsActive reports whether the voucher can still be redeemed at now.
func (v *Voucher) IsActive(now time.Time) bool {
	if v.Redeemed >= v.MaxUsages {
		return false
	}
	if v.ValidUntil != nil && v.ValidUntil.Before(now) {
		return false
	}
	return true
}

// AppliesTo reports whether the voucher may be used for the given product
// and variation.
func (v *Voucher) AppliesTo(product *Product, variation *ProductVariation) bool {
	switch {
	case v.QuotaID != nil:
		for _, pid := range v.QuotaProductIDs {
			if pid == product.ID {
				return true
			}
		}
		return false
	case v.ProductID != nil && v.VariationID != nil:
		return *v.ProductID == product.ID && variation != nil && *v.VariationID == variation.ID
	case v.ProductID != nil:
		return *v.ProductID == product.ID
	default:
		return true
	}
}

// ApplyDiscount returns the price after the voucher's price effect.
func (v *Voucher) ApplyDiscount(price decimal.Decimal) decimal.Decimal {
	switch v.PriceMode {
	case VoucherPriceModeSet:
		return v.Value
	case VoucherPriceModeSubtract:
		p := price.Sub(v.Value)
		if p.IsNegative() {
			return decimal.Zero
		}
		return p
	case VoucherPriceModePercent:
		discount := price.Mul(v.Value).Div(decimal.NewFromInt(100))
		return price.Sub(discount)
	default:
		return price
	}
}

// NormalizeVoucherCode canonicalizes user input for the case-insensitive
// code lookup.
func NormalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
