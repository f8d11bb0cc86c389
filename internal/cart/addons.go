package cart

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/pricing"
)

// AddonSelection is one desired add-on line for a base position. The full
// set passed to SetAddons describes the target state; anything currently
// attached but not listed is removed.
type AddonSelection struct {
	BasePositionID uuid.UUID
	ProductID      uuid.UUID
	VariationID    *uuid.UUID
	Count          int
}

type addonKey struct {
	base      uuid.UUID
	product   uuid.UUID
	variation uuid.UUID
}

func selKey(base, product uuid.UUID, variation *uuid.UUID) addonKey {
	k := addonKey{base: base, product: product}
	if variation != nil {
		k.variation = *variation
	}
	return k
}

// SetAddons reconciles the desired add-on set against what is currently
// attached, per base position and add-on category. It validates the
// category's count rules, synthesizes Add and Remove operations for the
// difference and re-prices attached lines whose stored price has drifted.
func (m *Manager) SetAddons(ctx context.Context, selections []AddonSelection) error {
	now := m.now()
	positions, err := m.currentPositions(ctx)
	if err != nil {
		return err
	}

	bases := map[uuid.UUID]domain.CartPosition{}
	attached := map[uuid.UUID][]domain.CartPosition{}
	for _, pos := range positions {
		if pos.AddonToID == nil {
			bases[pos.ID] = pos
		} else if !pos.IsBundled {
			attached[*pos.AddonToID] = append(attached[*pos.AddonToID], pos)
		}
	}

	productIDs := map[uuid.UUID]bool{}
	for _, sel := range selections {
		productIDs[sel.ProductID] = true
	}
	for _, pos := range bases {
		productIDs[pos.ProductID] = true
	}
	for _, list := range attached {
		for _, pos := range list {
			productIDs[pos.ProductID] = true
		}
	}
	ids := make([]uuid.UUID, 0, len(productIDs))
	for id := range productIDs {
		ids = append(ids, id)
	}
	products, err := m.store.ProductsByID(ctx, m.event.ID, ids)
	if err != nil {
		return domain.Internal(err, "cart.addons", "failed to load products")
	}

	// desired counts keyed by (base, product, variation)
	desired := map[addonKey]AddonSelection{}
	for _, sel := range selections {
		if sel.Count <= 0 {
			continue
		}
		key := selKey(sel.BasePositionID, sel.ProductID, sel.VariationID)
		if _, dup := desired[key]; dup {
			return newError(CodeAddonDuplicateProduct)
		}
		desired[key] = sel
	}

	// validate every selection against its base's category rule
	type catState struct {
		rule  domain.AddonRule
		base  domain.CartPosition
		total int
		perProduct map[uuid.UUID]int
	}
	states := map[uuid.UUID]map[uuid.UUID]*catState{} // base -> category -> state

	ruleFor := func(base domain.CartPosition, addonProduct *domain.Product) *domain.AddonRule {
		baseProduct := products[base.ProductID]
		if baseProduct == nil || addonProduct.Category == nil {
			return nil
		}
		for i := range baseProduct.Addons {
			if baseProduct.Addons[i].AddonCategoryID == addonProduct.Category.ID {
				return &baseProduct.Addons[i]
			}
		}
		return nil
	}

	accumulate := func(base domain.CartPosition, product *domain.Product, count int) error {
		rule := ruleFor(base, product)
		if rule == nil {
			return newError(CodeAddonInvalidBase)
		}
		if states[base.ID] == nil {
			states[base.ID] = map[uuid.UUID]*catState{}
		}
		st := states[base.ID][rule.AddonCategoryID]
		if st == nil {
			st = &catState{rule: *rule, base: base, perProduct: map[uuid.UUID]int{}}
			states[base.ID][rule.AddonCategoryID] = st
		}
		st.total += count
		st.perProduct[product.ID] += count
		return nil
	}

	for _, sel := range desired {
		base, ok := bases[sel.BasePositionID]
		if !ok {
			return newError(CodeAddonInvalidBase)
		}
		product := products[sel.ProductID]
		if product == nil {
			return newError(CodeNotForSale)
		}
		if product.Category == nil || !product.Category.IsAddon {
			return newError(CodeAddonInvalidBase)
		}
		if err := accumulate(base, product, sel.Count); err != nil {
			return err
		}
	}

	// Categories with a minimum need an entry even when nothing was
	// selected for them, so the minimum check below can fail them.
	for _, base := range bases {
		baseProduct := products[base.ProductID]
		if baseProduct == nil {
			continue
		}
		for _, rule := range baseProduct.Addons {
			if states[base.ID] == nil {
				states[base.ID] = map[uuid.UUID]*catState{}
			}
			if states[base.ID][rule.AddonCategoryID] == nil {
				states[base.ID][rule.AddonCategoryID] = &catState{
					rule: rule, base: base, perProduct: map[uuid.UUID]int{},
				}
			}
		}
	}

	for _, cats := range states {
		for _, st := range cats {
			baseProduct := products[st.base.ProductID]
			baseName := ""
			if baseProduct != nil {
				baseName = baseProduct.Name
			}
			args := map[string]any{"cat": st.rule.AddonCategoryName, "base": baseName}
			if st.rule.MaxCount > 0 && st.total > st.rule.MaxCount {
				args["max"] = st.rule.MaxCount
				return newErrorf(CodeAddonMaxCount, args)
			}
			if st.total < st.rule.MinCount {
				args["min"] = st.rule.MinCount
				return newErrorf(CodeAddonMinCount, args)
			}
			if !st.rule.MultiAllowed {
				for _, c := range st.perProduct {
					if c > 1 {
						return newErrorf(CodeAddonNoMulti, args)
					}
				}
			}
			for _, v := range m.validators {
				category := &domain.Category{ID: st.rule.AddonCategoryID, Name: st.rule.AddonCategoryName, IsAddon: true}
				if err := v.ValidateAddons(ctx, st.base, category, st.perProduct); err != nil {
					return err
				}
			}
		}
	}

	// reconcile current state against the desired one
	current := map[addonKey][]domain.CartPosition{}
	for baseID, list := range attached {
		for _, pos := range list {
			current[selKey(baseID, pos.ProductID, pos.VariationID)] = append(
				current[selKey(baseID, pos.ProductID, pos.VariationID)], pos)
		}
	}

	handled := map[addonKey]bool{}
	for key, sel := range desired {
		handled[key] = true
		have := current[key]
		base := bases[sel.BasePositionID]
		product := products[sel.ProductID]
		rule := ruleFor(base, product)

		var variation *domain.ProductVariation
		if sel.VariationID != nil {
			vs, err := m.store.VariationsByID(ctx, []uuid.UUID{*sel.VariationID})
			if err != nil {
				return domain.Internal(err, "cart.addons", "failed to load variation")
			}
			variation = vs[*sel.VariationID]
		}
		var subEvent *domain.SubEvent
		if base.SubEventID != nil {
			ses, err := m.store.SubEventsByID(ctx, m.event.ID, []uuid.UUID{*base.SubEventID})
			if err != nil {
				return domain.Internal(err, "cart.addons", "failed to load sub-event")
			}
			subEvent = ses[*base.SubEventID]
		}
		rulePriceIncluded := rule != nil && rule.PriceIncluded

		taxRule, err := m.taxRule(ctx, product)
		if err != nil {
			return err
		}
		price, err := pricing.Resolve(pricing.ResolveParams{
			Product:        product,
			Variation:      variation,
			SubEvent:       subEvent,
			Rule:           taxRule,
			PriceIncluded:  rulePriceIncluded,
			InvoiceAddress: m.invoice,
		})
		if err != nil {
			return mapPricingErr(err)
		}

		if !product.IsAvailable(now) || !product.SoldOnChannel(m.channel) {
			return newError(CodeNotForSale)
		}

		// keep existing lines, fixing drifted prices in place
		keep := len(have)
		if keep > sel.Count {
			keep = sel.Count
		}
		for i := 0; i < keep; i++ {
			pos := have[i]
			if !pos.Price.Equal(price.Gross) {
				pos.Price = price.Gross
				if err := m.store.UpdatePosition(ctx, pos); err != nil {
					return domain.Internal(err, "cart.addons", "failed to reprice add-on")
				}
			}
		}
		for _, pos := range have[keep:] {
			m.ops = append(m.ops, removeOperation{Position: pos})
		}
		if delta := sel.Count - len(have); delta > 0 {
			quotas, err := m.quotasFor(ctx, product, variation, base.SubEventID, nil)
			if err != nil {
				return err
			}
			if quotas == nil {
				return newErrorf(CodeUnavailable, map[string]any{"product": product.Name})
			}
			baseID := sel.BasePositionID
			m.ops = append(m.ops, &addOperation{
				Count:       delta,
				Product:     product,
				Variation:   variation,
				Price:       price,
				Quotas:      quotas,
				AddonTo:     &baseID,
				SubEvent:    subEvent,
				IncludesTax: includesTax(taxRule, m.invoice),
			})
			m.trackQuotas(quotas, delta)
		}
	}

	// everything attached but not desired goes away
	for key, list := range current {
		if handled[key] {
			continue
		}
		for _, pos := range list {
			m.ops = append(m.ops, removeOperation{Position: pos})
		}
	}
	return nil
}
