package cart

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/pricing"
)

// RemoveProduct queues the removal of one position owned by this cart.
// Add-on and bundled children are deleted together with it.
func (m *Manager) RemoveProduct(ctx context.Context, positionID uuid.UUID) error {
	positions, err := m.currentPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.ID == positionID {
			m.ops = append(m.ops, removeOperation{Position: pos})
			return nil
		}
	}
	return newError(CodeUnknownPosition)
}

// Clear queues the removal of every top-level position in the cart.
func (m *Manager) Clear(ctx context.Context) error {
	positions, err := m.currentPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.AddonToID == nil {
			m.ops = append(m.ops, removeOperation{Position: pos})
		}
	}
	return nil
}

// ExtendExpiredPositions re-plans every lapsed position of this cart: price
// is re-resolved at current catalog state and quota demand re-acquired.
// Positions whose quotas have vanished are queued for removal instead.
// Calling this when nothing is expired is a no-op.
func (m *Manager) ExtendExpiredPositions(ctx context.Context) error {
	now := m.now()
	positions, err := m.currentPositions(ctx)
	if err != nil {
		return err
	}

	var expired []domain.CartPosition
	for _, pos := range positions {
		if pos.Expired(now) {
			expired = append(expired, pos)
		}
	}
	if len(expired) == 0 {
		return nil
	}
	if m.metrics != nil {
		m.metrics.PositionsExpired.WithLabelValues(m.event.Slug).Add(float64(len(expired)))
	}

	// Bundled children first: their freshly resolved designated prices feed
	// into the parent's price via the bundled sum.
	ordered := make([]domain.CartPosition, 0, len(expired))
	for _, pos := range expired {
		if pos.IsBundled {
			ordered = append(ordered, pos)
		}
	}
	for _, pos := range expired {
		if !pos.IsBundled {
			ordered = append(ordered, pos)
		}
	}

	productIDs := make([]uuid.UUID, 0, len(ordered))
	variationIDs := make([]uuid.UUID, 0)
	subEventIDs := make([]uuid.UUID, 0)
	for _, pos := range ordered {
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
		return domain.Internal(err, "cart.extend", "failed to load products")
	}
	variations := map[uuid.UUID]*domain.ProductVariation{}
	if len(variationIDs) > 0 {
		variations, err = m.store.VariationsByID(ctx, variationIDs)
		if err != nil {
			return domain.Internal(err, "cart.extend", "failed to load variations")
		}
	}
	subEvents := map[uuid.UUID]*domain.SubEvent{}
	if len(subEventIDs) > 0 {
		subEvents, err = m.store.SubEventsByID(ctx, m.event.ID, subEventIDs)
		if err != nil {
			return domain.Internal(err, "cart.extend", "failed to load sub-events")
		}
	}

	parentProduct := func(pos domain.CartPosition) *domain.Product {
		if pos.AddonToID == nil {
			return nil
		}
		for _, p := range positions {
			if p.ID == *pos.AddonToID {
				return products[p.ProductID]
			}
		}
		return nil
	}

	// Per-parent sum of re-resolved designated prices, carried from the
	// bundled pass into the parent pass.
	bundledSums := map[uuid.UUID]decimal.Decimal{}

	for _, pos := range ordered {
		product := products[pos.ProductID]
		if product == nil {
			m.ops = append(m.ops, removeOperation{
				Position: pos,
				Reason:   CodeUnavailable,
			})
			continue
		}
		var variation *domain.ProductVariation
		if pos.VariationID != nil {
			variation = variations[*pos.VariationID]
		}
		var subEvent *domain.SubEvent
		if pos.SubEventID != nil {
			subEvent = subEvents[*pos.SubEventID]
		}

		var voucher *domain.Voucher
		if pos.VoucherID != nil {
			voucher, err = m.store.VoucherByID(ctx, *pos.VoucherID)
			if err != nil {
				return domain.Internal(err, "cart.extend", "failed to load voucher")
			}
			if voucher == nil {
				m.ops = append(m.ops, removeOperation{
					Position:   pos,
					Reason:     CodeUnavailable,
					ReasonArgs: map[string]any{"product": product.Name},
				})
				continue
			}
		}

		quotas, err := m.quotasFor(ctx, product, variation, pos.SubEventID, voucher)
		if err != nil {
			return err
		}
		if quotas == nil && !voucherBypassesQuota(voucher) {
			m.ops = append(m.ops, removeOperation{
				Position:   pos,
				Reason:     CodeUnavailable,
				ReasonArgs: map[string]any{"product": product.Name},
			})
			continue
		}

		rule, err := m.taxRule(ctx, product)
		if err != nil {
			return err
		}

		var price pricing.TaxedPrice
		if pos.IsBundled {
			// Re-resolve against the parent's current bundle definition; the
			// designated price may have changed since the cart was filled.
			dp := pos.Price
			if pp := parentProduct(pos); pp != nil {
				for _, b := range pp.Bundles {
					if b.BundledProductID == pos.ProductID {
						dp = b.DesignatedPrice
						break
					}
				}
			}
			price, err = pricing.Resolve(pricing.ResolveParams{
				Product:          product,
				Variation:        variation,
				SubEvent:         subEvent,
				Rule:             rule,
				CustomPrice:      &dp,
				ForceCustomPrice: true,
				InvoiceAddress:   m.invoice,
			})
			if err != nil {
				return mapPricingErr(err)
			}
			if pos.AddonToID != nil {
				bundledSums[*pos.AddonToID] = bundledSums[*pos.AddonToID].Add(price.Gross)
			}
		} else {
			price, err = pricing.Resolve(pricing.ResolveParams{
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
		}

		var seat *domain.Seat
		if pos.SeatID != nil {
			seat, err = m.store.SeatByID(ctx, *pos.SeatID)
			if err != nil {
				return domain.Internal(err, "cart.extend", "failed to load seat")
			}
		}

		m.ops = append(m.ops, extendOperation{
			Position:           pos,
			Product:            product,
			Variation:          variation,
			Price:              price,
			Voucher:            voucher,
			Quotas:             quotas,
			SubEvent:           subEvent,
			Seat:               seat,
			PriceBeforeVoucher: pos.PriceBeforeVoucher,
		})
		m.trackQuotas(quotas, 1)
		if voucher != nil {
			m.voucherDiff[voucher.ID]++
		}
	}
	return nil
}

// deleteOutOfTimeframe hard-deletes positions whose sub-event presale
// window no longer covers now, or whose sub-event payment deadline has
// passed. The deletion happens immediately, outside the operation log;
// the finding is reported as a non-fatal error.
func (m *Manager) deleteOutOfTimeframe(ctx context.Context) (*Error, error) {
	now := m.now()
	positions, err := m.currentPositions(ctx)
	if err != nil {
		return nil, err
	}

	subEventIDs := make([]uuid.UUID, 0)
	for _, pos := range positions {
		if pos.SubEventID != nil {
			subEventIDs = append(subEventIDs, *pos.SubEventID)
		}
	}
	if len(subEventIDs) == 0 {
		return nil, nil
	}
	subEvents, err := m.store.SubEventsByID(ctx, m.event.ID, subEventIDs)
	if err != nil {
		return nil, domain.Internal(err, "cart.commit", "failed to load sub-events")
	}

	var softErr *Error
	var doomed []uuid.UUID
	kept := positions[:0]
	for _, pos := range positions {
		if pos.SubEventID == nil {
			kept = append(kept, pos)
			continue
		}
		se := subEvents[*pos.SubEventID]
		switch {
		case se == nil:
			kept = append(kept, pos)
		case se.PresaleStart != nil && now.Before(*se.PresaleStart):
			doomed = append(doomed, pos.ID)
			if softErr == nil {
				softErr = newError(CodeSubEventNotStarted)
			}
		case se.PresaleHasEnded(now):
			doomed = append(doomed, pos.ID)
			if softErr == nil {
				softErr = newError(CodeSubEventEnded)
			}
		case se.PaymentTermLast != nil && now.After(*se.PaymentTermLast):
			doomed = append(doomed, pos.ID)
			if softErr == nil {
				softErr = newError(CodeSubEventEnded)
			}
		default:
			kept = append(kept, pos)
		}
	}
	if len(doomed) == 0 {
		return nil, nil
	}
	if err := m.store.DeletePositions(ctx, doomed); err != nil {
		return nil, domain.Internal(err, "cart.commit", "failed to delete out-of-timeframe positions")
	}
	if m.metrics != nil {
		m.metrics.PositionsRemoved.WithLabelValues(m.event.Slug, "policy").Add(float64(len(doomed)))
	}
	m.positions = kept
	return softErr, nil
}
