package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/sigyn/internal/domain"
)

func (s *CartStore) SeatByGUID(ctx context.Context, eventID uuid.UUID, subEventID *uuid.UUID, guid string) (*domain.Seat, error) {
	const q = `
		SELECT id, event_id, subevent_id, guid, name, product_id, blocked
		FROM seats
		WHERE event_id = $1 AND guid = $2
		  AND (subevent_id IS NULL OR subevent_id = $3)`

	return scanSeat(s.db.QueryRow(ctx, q, eventID, guid, subEventID))
}

func (s *CartStore) SeatByID(ctx context.Context, id uuid.UUID) (*domain.Seat, error) {
	const q = `
		SELECT id, event_id, subevent_id, guid, name, product_id, blocked
		FROM seats
		WHERE id = $1`

	return scanSeat(s.db.QueryRow(ctx, q, id))
}

func scanSeat(row pgx.Row) (*domain.Seat, error) {
	var seat domain.Seat
	err := row.Scan(
		&seat.ID, &seat.EventID, &seat.SubEventID,
		&seat.GUID, &seat.Name, &seat.ProductID, &seat.Blocked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "store.seat", "failed to load seat")
	}
	return &seat, nil
}

// SeatTaken reports whether another cart reserves the seat or an order
// already references it.
func (s *CartStore) SeatTaken(ctx context.Context, seatID uuid.UUID, excludeCartID string, now time.Time) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM cart_positions
			WHERE seat_id = $1 AND cart_id <> $2 AND expires > $3
		) OR EXISTS (
			SELECT 1 FROM order_positions op
			JOIN orders o ON o.id = op.order_id
			WHERE op.seat_id = $1 AND o.status IN ('pending', 'paid')
		)`

	var taken bool
	if err := s.db.QueryRow(ctx, q, seatID, excludeCartID, now).Scan(&taken); err != nil {
		return false, domain.Internal(err, "store.seat", "failed to check seat")
	}
	return taken, nil
}
