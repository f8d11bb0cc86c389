package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/pricing"
)

// ProductsByID loads products with their category, add-on rules and bundle
// definitions in four queries, independent of the number of products.
func (s *CartStore) ProductsByID(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	out := map[uuid.UUID]*domain.Product{}
	if len(ids) == 0 {
		return out, nil
	}

	const q = `
		SELECT p.id, p.event_id, p.name, p.active, p.available_from, p.available_until,
		       p.default_price::text, p.free_price, p.tax_rule_id,
		       p.require_voucher, p.hide_without_voucher, p.require_bundling,
		       p.sales_channels, p.max_per_order, p.min_per_order,
		       p.has_variations, p.requires_seat, p.limit_one_per_user,
		       c.id, c.name, c.is_addon
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.event_id = $1 AND p.id = ANY($2)`

	rows, err := s.db.Query(ctx, q, eventID, ids)
	if err != nil {
		return nil, domain.Internal(err, "store.products", "failed to load products")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p       domain.Product
			price   string
			catID   *uuid.UUID
			catName *string
			isAddon *bool
		)
		err := rows.Scan(
			&p.ID, &p.EventID, &p.Name, &p.Active, &p.AvailableFrom, &p.AvailableUntil,
			&price, &p.FreePrice, &p.TaxRuleID,
			&p.RequireVoucher, &p.HideWithoutVoucher, &p.RequireBundling,
			&p.SalesChannels, &p.MaxPerOrder, &p.MinPerOrder,
			&p.HasVariations, &p.RequiresSeat, &p.LimitOnePerUser,
			&catID, &catName, &isAddon,
		)
		if err != nil {
			return nil, domain.Internal(err, "store.products", "failed to scan product")
		}
		if p.DefaultPrice, err = decimal.NewFromString(price); err != nil {
			return nil, domain.Internal(err, "store.products", "invalid price")
		}
		if catID != nil {
			p.Category = &domain.Category{ID: *catID, Name: *catName, IsAddon: *isAddon}
		}
		cp := p
		out[p.ID] = &cp
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "store.products", "failed to load products")
	}

	if err := s.attachAddonRules(ctx, out); err != nil {
		return nil, err
	}
	if err := s.attachBundles(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CartStore) attachAddonRules(ctx context.Context, products map[uuid.UUID]*domain.Product) error {
	const q = `
		SELECT r.product_id, r.addon_category_id, c.name,
		       r.min_count, r.max_count, r.multi_allowed, r.price_included
		FROM product_addon_rules r
		JOIN categories c ON c.id = r.addon_category_id
		WHERE r.product_id = ANY($1)`

	rows, err := s.db.Query(ctx, q, keys(products))
	if err != nil {
		return domain.Internal(err, "store.products", "failed to load addon rules")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID uuid.UUID
			rule      domain.AddonRule
		)
		err := rows.Scan(
			&productID, &rule.AddonCategoryID, &rule.AddonCategoryName,
			&rule.MinCount, &rule.MaxCount, &rule.MultiAllowed, &rule.PriceIncluded,
		)
		if err != nil {
			return domain.Internal(err, "store.products", "failed to scan addon rule")
		}
		if p, ok := products[productID]; ok {
			p.Addons = append(p.Addons, rule)
		}
	}
	return rows.Err()
}

func (s *CartStore) attachBundles(ctx context.Context, products map[uuid.UUID]*domain.Product) error {
	const q = `
		SELECT product_id, bundled_product_id, bundled_variation_id,
		       count, designated_price::text
		FROM product_bundles
		WHERE product_id = ANY($1)`

	rows, err := s.db.Query(ctx, q, keys(products))
	if err != nil {
		return domain.Internal(err, "store.products", "failed to load bundles")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID uuid.UUID
			b         domain.Bundle
			price     string
		)
		if err := rows.Scan(&productID, &b.BundledProductID, &b.BundledVariationID, &b.Count, &price); err != nil {
			return domain.Internal(err, "store.products", "failed to scan bundle")
		}
		var err error
		if b.DesignatedPrice, err = decimal.NewFromString(price); err != nil {
			return domain.Internal(err, "store.products", "invalid bundle price")
		}
		if p, ok := products[productID]; ok {
			p.Bundles = append(p.Bundles, b)
		}
	}
	return rows.Err()
}

func (s *CartStore) VariationsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.ProductVariation, error) {
	out := map[uuid.UUID]*domain.ProductVariation{}
	if len(ids) == 0 {
		return out, nil
	}

	const q = `
		SELECT id, product_id, name, active, default_price::text
		FROM product_variations
		WHERE id = ANY($1)`

	rows, err := s.db.Query(ctx, q, ids)
	if err != nil {
		return nil, domain.Internal(err, "store.variations", "failed to load variations")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v     domain.ProductVariation
			price *string
		)
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.Active, &price); err != nil {
			return nil, domain.Internal(err, "store.variations", "failed to scan variation")
		}
		if price != nil {
			d, err := decimal.NewFromString(*price)
			if err != nil {
				return nil, domain.Internal(err, "store.variations", "invalid price")
			}
			v.DefaultPrice = &d
		}
		cp := v
		out[v.ID] = &cp
	}
	return out, rows.Err()
}

func (s *CartStore) SubEventsByID(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*domain.SubEvent, error) {
	out := map[uuid.UUID]*domain.SubEvent{}
	if len(ids) == 0 {
		return out, nil
	}

	const q = `
		SELECT id, event_id, name, active, presale_start, presale_end, payment_term_last
		FROM subevents
		WHERE event_id = $1 AND id = ANY($2)`

	rows, err := s.db.Query(ctx, q, eventID, ids)
	if err != nil {
		return nil, domain.Internal(err, "store.subevents", "failed to load subevents")
	}
	defer rows.Close()

	for rows.Next() {
		var se domain.SubEvent
		err := rows.Scan(
			&se.ID, &se.EventID, &se.Name, &se.Active,
			&se.PresaleStart, &se.PresaleEnd, &se.PaymentTermLast,
		)
		if err != nil {
			return nil, domain.Internal(err, "store.subevents", "failed to scan subevent")
		}
		se.ProductOverrides = map[uuid.UUID]domain.PriceOverride{}
		se.VariationOverrides = map[uuid.UUID]domain.PriceOverride{}
		cp := se
		out[se.ID] = &cp
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "store.subevents", "failed to load subevents")
	}

	if err := s.attachOverrides(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CartStore) attachOverrides(ctx context.Context, subevents map[uuid.UUID]*domain.SubEvent) error {
	const q = `
		SELECT subevent_id, product_id, variation_id, price::text, disabled
		FROM subevent_overrides
		WHERE subevent_id = ANY($1)`

	ids := make([]uuid.UUID, 0, len(subevents))
	for id := range subevents {
		ids = append(ids, id)
	}

	rows, err := s.db.Query(ctx, q, ids)
	if err != nil {
		return domain.Internal(err, "store.subevents", "failed to load overrides")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			subEventID  uuid.UUID
			productID   *uuid.UUID
			variationID *uuid.UUID
			price       *string
			disabled    bool
		)
		if err := rows.Scan(&subEventID, &productID, &variationID, &price, &disabled); err != nil {
			return domain.Internal(err, "store.subevents", "failed to scan override")
		}

		ov := domain.PriceOverride{Disabled: disabled}
		if price != nil {
			d, err := decimal.NewFromString(*price)
			if err != nil {
				return domain.Internal(err, "store.subevents", "invalid override price")
			}
			ov.Price = &d
		}

		se, ok := subevents[subEventID]
		if !ok {
			continue
		}
		switch {
		case variationID != nil:
			se.VariationOverrides[*variationID] = ov
		case productID != nil:
			se.ProductOverrides[*productID] = ov
		}
	}
	return rows.Err()
}

func (s *CartStore) TaxRuleByID(ctx context.Context, id *uuid.UUID) (*pricing.TaxRule, error) {
	if id == nil {
		return nil, nil
	}

	const q = `
		SELECT id, name, rate::text, eu_reverse_charge, home_country, blocked_countries
		FROM tax_rules
		WHERE id = $1`

	var (
		r    pricing.TaxRule
		rate string
	)
	err := s.db.QueryRow(ctx, q, *id).Scan(
		&r.ID, &r.Name, &rate, &r.EUReverseCharge, &r.HomeCountry, &r.BlockedCountries,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "store.taxrule", "failed to load tax rule")
	}
	if r.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, domain.Internal(err, "store.taxrule", "invalid rate")
	}
	return &r, nil
}

// QuotasFor lists the quotas covering a product or variation within the
// given sub-event scope. Variation-level quota links take precedence when
// a variation is selected.
func (s *CartStore) QuotasFor(ctx context.Context, productID uuid.UUID, variationID *uuid.UUID, subEventID *uuid.UUID) ([]*domain.Quota, error) {
	const q = `
		SELECT DISTINCT q.id, q.event_id, q.subevent_id, q.name, q.size
		FROM quotas q
		JOIN quota_products qp ON qp.quota_id = q.id
		WHERE qp.product_id = $1
		  AND (qp.variation_id IS NULL OR qp.variation_id = $2)
		  AND (q.subevent_id IS NULL OR q.subevent_id = $3)
		ORDER BY q.id`

	rows, err := s.db.Query(ctx, q, productID, variationID, subEventID)
	if err != nil {
		return nil, domain.Internal(err, "store.quotas", "failed to load quotas")
	}
	defer rows.Close()

	var out []*domain.Quota
	for rows.Next() {
		var quota domain.Quota
		if err := rows.Scan(&quota.ID, &quota.EventID, &quota.SubEventID, &quota.Name, &quota.Size); err != nil {
			return nil, domain.Internal(err, "store.quotas", "failed to scan quota")
		}
		cp := quota
		out = append(out, &cp)
	}
	return out, rows.Err()
}

func keys(products map[uuid.UUID]*domain.Product) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(products))
	for id := range products {
		out = append(out, id)
	}
	return out
}
