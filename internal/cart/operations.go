package cart

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/pricing"
)

// Planned mutations are kept as a typed, append-only log until commit.
// The priority order is load-bearing: removals must free capacity before
// extensions re-claim it, and extensions must claim it before brand-new
// additions contend for the rest.
const (
	prioRemove  = 10
	prioVoucher = 15
	prioExtend  = 20
	prioAdd     = 30
)

type operation interface {
	priority() int
}

// addOperation creates Count new positions for one requested line. Bundled
// sub-products are nested; they are clipped together with their parent at
// commit time and share its fate.
type addOperation struct {
	Count     int
	Product   *domain.Product
	Variation *domain.ProductVariation
	Price     pricing.TaxedPrice
	Voucher   *domain.Voucher
	Quotas    []*domain.Quota
	AddonTo   *uuid.UUID
	SubEvent  *domain.SubEvent
	Seat      *domain.Seat

	// IncludesTax is false when the buyer's address strips the tax.
	IncludesTax bool

	// Bundled holds the mandatory sub-items, one entry per bundle rule,
	// with Count already multiplied by the parent count.
	Bundled []*addOperation

	// IsBundled marks entries inside a parent's Bundled list.
	IsBundled bool

	PriceBeforeVoucher *decimal.Decimal
}

func (addOperation) priority() int { return prioAdd }

// removeOperation deletes one position (add-on children cascade with it).
type removeOperation struct {
	Position domain.CartPosition

	// Reason annotates removals synthesized by the engine itself, e.g. a
	// vanished quota during extension. Empty for user-requested removals.
	Reason     string
	ReasonArgs map[string]any
}

func (removeOperation) priority() int { return prioRemove }

// voucherOperation rewrites an existing position's price and voucher
// reference when a voucher is applied to a cart retroactively.
type voucherOperation struct {
	Position domain.CartPosition
	Voucher  *domain.Voucher
	Price    pricing.TaxedPrice
}

func (voucherOperation) priority() int { return prioVoucher }

// extendOperation renews one expired position, re-contending for quota and
// voucher capacity at the freshly resolved price.
type extendOperation struct {
	Position  domain.CartPosition
	Product   *domain.Product
	Variation *domain.ProductVariation
	Price     pricing.TaxedPrice
	Voucher   *domain.Voucher
	Quotas    []*domain.Quota
	SubEvent  *domain.SubEvent
	Seat      *domain.Seat

	PriceBeforeVoucher *decimal.Decimal
}

func (extendOperation) priority() int { return prioExtend }

// sortOperations orders a batch for execution. The sort is stable so that
// operations of equal priority run in the order they were planned.
func sortOperations(ops []operation) []operation {
	sorted := make([]operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority() < sorted[j].priority()
	})
	return sorted
}
