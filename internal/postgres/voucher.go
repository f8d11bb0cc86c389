package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/sigyn/internal/domain"
)

const voucherColumns = `
	id, event_id, code, max_usages, redeemed, valid_until,
	product_id, variation_id, quota_id, seat_id, subevent_id,
	price_mode, value::text,
	allow_ignore_quota, block_quota, show_hidden_products`

// VoucherByCode finds a voucher by its normalized code. Returns nil when no
// such code exists.
func (s *CartStore) VoucherByCode(ctx context.Context, eventID uuid.UUID, code string) (*domain.Voucher, error) {
	q := `SELECT ` + voucherColumns + ` FROM vouchers WHERE event_id = $1 AND upper(code) = $2`
	return s.scanVoucher(ctx, s.db.QueryRow(ctx, q, eventID, domain.NormalizeVoucherCode(code)))
}

// VoucherByID re-fetches a voucher row so the commit sees the freshest
// redemption counter.
func (s *CartStore) VoucherByID(ctx context.Context, id uuid.UUID) (*domain.Voucher, error) {
	q := `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1`
	return s.scanVoucher(ctx, s.db.QueryRow(ctx, q, id))
}

func (s *CartStore) scanVoucher(ctx context.Context, row pgx.Row) (*domain.Voucher, error) {
	var (
		v     domain.Voucher
		value string
	)
	err := row.Scan(
		&v.ID, &v.EventID, &v.Code, &v.MaxUsages, &v.Redeemed, &v.ValidUntil,
		&v.ProductID, &v.VariationID, &v.QuotaID, &v.SeatID, &v.SubEventID,
		&v.PriceMode, &value,
		&v.AllowIgnoreQuota, &v.BlockQuota, &v.ShowHiddenProducts,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "store.voucher", "failed to load voucher")
	}
	if v.Value, err = decimal.NewFromString(value); err != nil {
		return nil, domain.Internal(err, "store.voucher", "invalid value")
	}

	if v.QuotaID != nil {
		const pq = `SELECT product_id FROM quota_products WHERE quota_id = $1`
		rows, err := s.db.Query(ctx, pq, *v.QuotaID)
		if err != nil {
			return nil, domain.Internal(err, "store.voucher", "failed to load quota products")
		}
		defer rows.Close()
		for rows.Next() {
			var pid uuid.UUID
			if err := rows.Scan(&pid); err != nil {
				return nil, domain.Internal(err, "store.voucher", "failed to scan quota product")
			}
			v.QuotaProductIDs = append(v.QuotaProductIDs, pid)
		}
		if err := rows.Err(); err != nil {
			return nil, domain.Internal(err, "store.voucher", "failed to load quota products")
		}
	}
	return &v, nil
}

// VoucherCartCount counts unexpired positions reserving the voucher,
// excluding the given position IDs.
func (s *CartStore) VoucherCartCount(ctx context.Context, voucherID uuid.UUID, excludePositionIDs []uuid.UUID, now time.Time) (int, error) {
	const q = `
		SELECT count(*)
		FROM cart_positions
		WHERE voucher_id = $1 AND expires > $2 AND NOT (id = ANY($3))`

	if excludePositionIDs == nil {
		excludePositionIDs = []uuid.UUID{}
	}
	var count int
	if err := s.db.QueryRow(ctx, q, voucherID, now, excludePositionIDs).Scan(&count); err != nil {
		return 0, domain.Internal(err, "store.voucher", "failed to count voucher carts")
	}
	return count, nil
}
