package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/sigyn/internal/cart"
	"github.com/dukerupert/sigyn/internal/domain"
)

// DBTX is the subset of pgx both a pool and a transaction satisfy.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CartStore implements cart.Store on PostgreSQL.
type CartStore struct {
	db   DBTX
	pool *pgxpool.Pool
}

// Compile-time check that CartStore satisfies the engine's store contract.
var _ cart.Store = (*CartStore)(nil)

// NewCartStore creates a PostgreSQL-backed cart store.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{db: pool, pool: pool}
}

// InTx runs fn inside one transaction. The Store handed to fn routes every
// query through that transaction; any error rolls it back.
func (s *CartStore) InTx(ctx context.Context, fn func(ctx context.Context, tx cart.Store) error) error {
	if s.pool == nil {
		// Already inside a transaction; reuse it.
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Internal(err, "store.tx", "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &CartStore{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Internal(err, "store.tx", "failed to commit transaction")
	}
	return nil
}

// EventByID loads one event with its settings. Returns nil when the event
// does not exist.
func (s *CartStore) EventByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	const q = `
		SELECT id, slug, name, currency, has_subevents,
		       presale_start, presale_end, payment_term_last,
		       reservation_minutes, max_products_per_order, display_net_prices,
		       seating_choice, seating_blocked_seat_channels
		FROM events
		WHERE id = $1`

	var (
		e       domain.Event
		start   *time.Time
		end     *time.Time
		payLast *time.Time
	)
	err := s.db.QueryRow(ctx, q, id).Scan(
		&e.ID, &e.Slug, &e.Name, &e.Currency, &e.HasSubEvents,
		&start, &end, &payLast,
		&e.Settings.ReservationTime, &e.Settings.MaxProductsPerOrder, &e.Settings.DisplayNetPrices,
		&e.Settings.SeatingChoice, &e.Settings.SeatingAllowBlockedSeatsForChannel,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "store.event", "failed to load event")
	}
	e.PresaleStart = start
	e.PresaleEnd = end
	e.PaymentTermLast = payLast
	return &e, nil
}
