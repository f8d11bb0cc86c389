package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/sigyn/internal/domain"
)

func (s *CartStore) Positions(ctx context.Context, eventID uuid.UUID, cartID string) ([]domain.CartPosition, error) {
	const q = `
		SELECT id, event_id, cart_id, product_id, variation_id, subevent_id,
		       price::text, expires, voucher_id, seat_id, addon_to_id,
		       is_bundled, includes_tax, override_tax_rate::text, price_before_voucher::text
		FROM cart_positions
		WHERE event_id = $1 AND cart_id = $2
		ORDER BY id`

	rows, err := s.db.Query(ctx, q, eventID, cartID)
	if err != nil {
		return nil, domain.Internal(err, "store.positions", "failed to list positions")
	}
	defer rows.Close()

	var out []domain.CartPosition
	for rows.Next() {
		var (
			pos          domain.CartPosition
			price        string
			overrideRate *string
			beforeVoucher *string
		)
		err := rows.Scan(
			&pos.ID, &pos.EventID, &pos.CartID, &pos.ProductID, &pos.VariationID, &pos.SubEventID,
			&price, &pos.Expires, &pos.VoucherID, &pos.SeatID, &pos.AddonToID,
			&pos.IsBundled, &pos.IncludesTax, &overrideRate, &beforeVoucher,
		)
		if err != nil {
			return nil, domain.Internal(err, "store.positions", "failed to scan position")
		}
		if pos.Price, err = decimal.NewFromString(price); err != nil {
			return nil, domain.Internal(err, "store.positions", "invalid price")
		}
		if pos.OverrideTaxRate, err = decimalPtr(overrideRate); err != nil {
			return nil, domain.Internal(err, "store.positions", "invalid tax rate")
		}
		if pos.PriceBeforeVoucher, err = decimalPtr(beforeVoucher); err != nil {
			return nil, domain.Internal(err, "store.positions", "invalid price")
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (s *CartStore) InsertPositions(ctx context.Context, positions []domain.CartPosition) error {
	const q = `
		INSERT INTO cart_positions (
			id, event_id, cart_id, product_id, variation_id, subevent_id,
			price, expires, voucher_id, seat_id, addon_to_id,
			is_bundled, includes_tax, override_tax_rate, price_before_voucher
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14::numeric, $15::numeric)`

	for _, pos := range positions {
		_, err := s.db.Exec(ctx, q,
			pos.ID, pos.EventID, pos.CartID, pos.ProductID, pos.VariationID, pos.SubEventID,
			pos.Price.String(), pos.Expires, pos.VoucherID, pos.SeatID, pos.AddonToID,
			pos.IsBundled, pos.IncludesTax, textPtr(pos.OverrideTaxRate), textPtr(pos.PriceBeforeVoucher),
		)
		if err != nil {
			return domain.Internal(err, "store.positions", "failed to insert position")
		}
	}
	return nil
}

func (s *CartStore) UpdatePosition(ctx context.Context, pos domain.CartPosition) error {
	const q = `
		UPDATE cart_positions
		SET price = $2::numeric, expires = $3, voucher_id = $4,
		    override_tax_rate = $5::numeric, price_before_voucher = $6::numeric,
		    includes_tax = $7
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, q,
		pos.ID, pos.Price.String(), pos.Expires, pos.VoucherID,
		textPtr(pos.OverrideTaxRate), textPtr(pos.PriceBeforeVoucher), pos.IncludesTax,
	)
	if err != nil {
		return domain.Internal(err, "store.positions", "failed to update position")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPositionGone
	}
	return nil
}

// DeletePositions removes the rows; add-on children go with them via the
// cascading foreign key on addon_to_id.
func (s *CartStore) DeletePositions(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM cart_positions WHERE id = ANY($1)`, ids); err != nil {
		return domain.Internal(err, "store.positions", "failed to delete positions")
	}
	return nil
}

func (s *CartStore) ExtendExpiry(ctx context.Context, eventID uuid.UUID, cartID string, expiry time.Time, now time.Time) error {
	const q = `
		UPDATE cart_positions
		SET expires = $3
		WHERE event_id = $1 AND cart_id = $2 AND expires > $4`

	if _, err := s.db.Exec(ctx, q, eventID, cartID, expiry, now); err != nil {
		return domain.Internal(err, "store.positions", "failed to extend expiry")
	}
	return nil
}

func (s *CartStore) HasOrderWithProduct(ctx context.Context, eventID uuid.UUID, email string, productID uuid.UUID) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1
			FROM order_positions op
			JOIN orders o ON o.id = op.order_id
			WHERE o.event_id = $1 AND lower(o.email) = lower($2)
			  AND op.product_id = $3 AND o.status IN ('pending', 'paid')
		)`

	var exists bool
	if err := s.db.QueryRow(ctx, q, eventID, email, productID).Scan(&exists); err != nil {
		return false, domain.Internal(err, "store.orders", "failed to check orders")
	}
	return exists, nil
}

// ConfirmedByQuota counts order consumption per quota. Quotas scoped to a
// sub-event only count positions of that occurrence.
func (s *CartStore) ConfirmedByQuota(ctx context.Context, quotaIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	const q = `
		SELECT qp.quota_id, count(*)
		FROM order_positions op
		JOIN orders o ON o.id = op.order_id AND o.status IN ('pending', 'paid')
		JOIN quota_products qp ON qp.product_id = op.product_id
		  AND (qp.variation_id IS NULL OR qp.variation_id = op.variation_id)
		JOIN quotas qu ON qu.id = qp.quota_id
		  AND (qu.subevent_id IS NULL OR qu.subevent_id = op.subevent_id)
		WHERE qp.quota_id = ANY($1)
		GROUP BY qp.quota_id`

	return s.countByQuota(ctx, q, quotaIDs)
}

// ReservedByQuota counts live cart reservations per quota, skipping
// positions whose voucher holds or bypasses quota capacity.
func (s *CartStore) ReservedByQuota(ctx context.Context, quotaIDs []uuid.UUID, now time.Time) (map[uuid.UUID]int, error) {
	const q = `
		SELECT qp.quota_id, count(*)
		FROM cart_positions cp
		LEFT JOIN vouchers v ON v.id = cp.voucher_id
		JOIN quota_products qp ON qp.product_id = cp.product_id
		  AND (qp.variation_id IS NULL OR qp.variation_id = cp.variation_id)
		JOIN quotas qu ON qu.id = qp.quota_id
		  AND (qu.subevent_id IS NULL OR qu.subevent_id = cp.subevent_id)
		WHERE qp.quota_id = ANY($1)
		  AND cp.expires > $2
		  AND (v.id IS NULL OR NOT (v.allow_ignore_quota OR v.block_quota))
		GROUP BY qp.quota_id`

	return s.countByQuota(ctx, q, quotaIDs, now)
}

func (s *CartStore) countByQuota(ctx context.Context, q string, quotaIDs []uuid.UUID, extra ...any) (map[uuid.UUID]int, error) {
	out := map[uuid.UUID]int{}
	if len(quotaIDs) == 0 {
		return out, nil
	}

	args := append([]any{quotaIDs}, extra...)
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, domain.Internal(err, "store.quotas", "failed to count quota usage")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    uuid.UUID
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, domain.Internal(err, "store.quotas", "failed to scan quota count")
		}
		out[id] = count
	}
	return out, rows.Err()
}

func decimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func textPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
