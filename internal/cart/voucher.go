package cart

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/pricing"
)

// ApplyVoucher queues voucher operations against the positions already in
// the cart. It cannot be combined with other planning calls in the same
// request; redeem-and-add goes through AddProducts with a voucher code.
//
// When the voucher cannot cover every eligible position, it is assigned
// greedily to the positions where the discount saves the buyer the most.
func (m *Manager) ApplyVoucher(ctx context.Context, code string) error {
	if len(m.ops) > 0 {
		return newError(CodeVoucherDouble)
	}
	now := m.now()

	voucher, err := m.resolveVoucher(ctx, code, now)
	if err != nil {
		return err
	}

	positions, err := m.currentPositions(ctx)
	if err != nil {
		return err
	}

	productIDs := make([]uuid.UUID, 0, len(positions))
	variationIDs := make([]uuid.UUID, 0)
	subEventIDs := make([]uuid.UUID, 0)
	for _, pos := range positions {
		productIDs = append(productIDs, pos.ProductID)
		if pos.VariationID != nil {
			variationIDs = append(variationIDs, *pos.VariationID)
		}
		if pos.SubEventID != nil {
			subEventIDs = append(subEventIDs, *pos.SubEventID)
		}
	}
	products, err := m.store.ProductsByID(ctx, m.event.ID, productIDs)
	if err != nil {
		return domain.Internal(err, "cart.voucher", "failed to load products")
	}
	variations := map[uuid.UUID]*domain.ProductVariation{}
	if len(variationIDs) > 0 {
		variations, err = m.store.VariationsByID(ctx, variationIDs)
		if err != nil {
			return domain.Internal(err, "cart.voucher", "failed to load variations")
		}
	}
	subEvents := map[uuid.UUID]*domain.SubEvent{}
	if len(subEventIDs) > 0 {
		subEvents, err = m.store.SubEventsByID(ctx, m.event.ID, subEventIDs)
		if err != nil {
			return domain.Internal(err, "cart.voucher", "failed to load sub-events")
		}
	}

	// Per-parent total of bundled children's prices; a bundle parent's
	// stored price is already net of this sum, so re-resolving it needs
	// the same subtraction.
	bundledSums := map[uuid.UUID]decimal.Decimal{}
	for _, pos := range positions {
		if pos.IsBundled && pos.AddonToID != nil {
			bundledSums[*pos.AddonToID] = bundledSums[*pos.AddonToID].Add(pos.Price)
		}
	}

	type candidate struct {
		op      voucherOperation
		benefit decimal.Decimal
	}
	var candidates []candidate

	for _, pos := range positions {
		if pos.VoucherID != nil || pos.IsBundled {
			continue
		}
		product := products[pos.ProductID]
		if product == nil {
			continue
		}
		var variation *domain.ProductVariation
		if pos.VariationID != nil {
			variation = variations[*pos.VariationID]
		}
		if !voucher.AppliesTo(product, variation) {
			continue
		}
		if voucher.SeatID != nil && (pos.SeatID == nil || *voucher.SeatID != *pos.SeatID) {
			continue
		}
		if voucher.SubEventID != nil && (pos.SubEventID == nil || *voucher.SubEventID != *pos.SubEventID) {
			continue
		}
		var subEvent *domain.SubEvent
		if pos.SubEventID != nil {
			subEvent = subEvents[*pos.SubEventID]
		}

		rule, err := m.taxRule(ctx, product)
		if err != nil {
			return err
		}
		price, err := pricing.Resolve(pricing.ResolveParams{
			Product:        product,
			Variation:      variation,
			Voucher:        voucher,
			SubEvent:       subEvent,
			Rule:           rule,
			BundledSum:     bundledSums[pos.ID],
			InvoiceAddress: m.invoice,
		})
		if err != nil {
			return mapPricingErr(err)
		}
		candidates = append(candidates, candidate{
			op:      voucherOperation{Position: pos, Voucher: voucher, Price: price},
			benefit: pos.Price.Sub(price.Gross),
		})
	}

	if len(candidates) == 0 {
		return newError(CodeVoucherNoMatch)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].benefit.GreaterThan(candidates[j].benefit)
	})
	for _, c := range candidates {
		m.ops = append(m.ops, c.op)
		m.voucherDiff[voucher.ID]++
	}
	return nil
}

// resolveVoucher fetches a voucher by code and runs the checks that do not
// depend on what it is applied to.
func (m *Manager) resolveVoucher(ctx context.Context, code string, now time.Time) (*domain.Voucher, error) {
	voucher, err := m.store.VoucherByCode(ctx, m.event.ID, domain.NormalizeVoucherCode(code))
	if err != nil {
		return nil, domain.Internal(err, "cart.voucher", "failed to look up voucher")
	}
	if voucher == nil {
		return nil, newError(CodeVoucherInvalid)
	}
	if voucher.ValidUntil != nil && voucher.ValidUntil.Before(now) {
		return nil, newError(CodeVoucherExpired)
	}
	if voucher.Redeemed >= voucher.MaxUsages {
		return nil, newError(CodeVoucherRedeemed)
	}
	return voucher, nil
}
