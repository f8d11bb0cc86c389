package cart

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/pricing"
	"github.com/dukerupert/sigyn/internal/quota"
)

// Store is the persistence boundary of the cart engine: catalog reads,
// availability counters and the cart position rows themselves. The postgres
// package provides the production implementation; tests use MemStore.
//
// Catalog reads are batch queries so one planning call issues a fixed
// number of queries regardless of how many lines it carries.
type Store interface {
	quota.Source

	// ProductsByID loads products of one event with category, add-on rules
	// and bundle definitions attached. Unknown IDs are simply absent.
	ProductsByID(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error)
	VariationsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.ProductVariation, error)
	SubEventsByID(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*domain.SubEvent, error)

	// TaxRuleByID returns nil for a nil id, no error.
	TaxRuleByID(ctx context.Context, id *uuid.UUID) (*pricing.TaxRule, error)

	// QuotasFor lists the active quotas covering a product (or variation) in
	// the given sub-event scope. An empty result means the item is not
	// sellable right now.
	QuotasFor(ctx context.Context, productID uuid.UUID, variationID *uuid.UUID, subEventID *uuid.UUID) ([]*domain.Quota, error)

	VoucherByCode(ctx context.Context, eventID uuid.UUID, code string) (*domain.Voucher, error)

	// VoucherByID re-fetches a voucher row to observe the freshest Redeemed
	// counter immediately before commit.
	VoucherByID(ctx context.Context, id uuid.UUID) (*domain.Voucher, error)

	// VoucherCartCount counts unexpired positions holding the voucher,
	// excluding the given position IDs (this request's own extensions, so
	// they are not double-counted against the voucher's budget).
	VoucherCartCount(ctx context.Context, voucherID uuid.UUID, excludePositionIDs []uuid.UUID, now time.Time) (int, error)

	SeatByGUID(ctx context.Context, eventID uuid.UUID, subEventID *uuid.UUID, guid string) (*domain.Seat, error)
	SeatByID(ctx context.Context, id uuid.UUID) (*domain.Seat, error)

	// SeatTaken reports whether any other cart holds an unexpired position
	// on the seat or an order position references it.
	SeatTaken(ctx context.Context, seatID uuid.UUID, excludeCartID string, now time.Time) (bool, error)

	// Positions lists every position of one cart, add-ons included.
	Positions(ctx context.Context, eventID uuid.UUID, cartID string) ([]domain.CartPosition, error)

	InsertPositions(ctx context.Context, positions []domain.CartPosition) error

	// UpdatePosition returns domain.ErrPositionGone when the row vanished,
	// e.g. deleted by an expiry sweep between planning and commit.
	UpdatePosition(ctx context.Context, pos domain.CartPosition) error

	// DeletePositions removes the rows and their add-on children.
	DeletePositions(ctx context.Context, ids []uuid.UUID) error

	// ExtendExpiry bumps every still-unexpired position of the cart to the
	// given expiry so all lines of one cart share a single deadline.
	ExtendExpiry(ctx context.Context, eventID uuid.UUID, cartID string, expiry time.Time, now time.Time) error

	// HasOrderWithProduct reports whether the given email already has a paid
	// or pending order containing the product. Backs the one-ticket-per-user
	// policy.
	HasOrderWithProduct(ctx context.Context, eventID uuid.UUID, email string, productID uuid.UUID) (bool, error)

	// InTx runs fn inside one database transaction; fn receives a Store
	// bound to that transaction. Any error rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

// AddonValidator is an extension point consulted during add-on
// reconciliation, after the built-in category rules pass. Plugins reject a
// selection by returning an error.
type AddonValidator interface {
	ValidateAddons(ctx context.Context, base domain.CartPosition, category *domain.Category, selected map[uuid.UUID]int) error
}
