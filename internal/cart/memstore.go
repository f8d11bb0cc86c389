package cart

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/pricing"
)

// MemStore is a fully in-memory Store. It backs the engine's tests and is
// handy for local development without a database. Transactions are
// serialized on a single mutex, which gives the same isolation the
// postgres store gets from its per-event advisory lock plus transaction.
type MemStore struct {
	mu sync.RWMutex

	Products   map[uuid.UUID]*domain.Product
	Variations map[uuid.UUID]*domain.ProductVariation
	SubEvents  map[uuid.UUID]*domain.SubEvent
	TaxRules   map[uuid.UUID]*pricing.TaxRule
	Quotas     map[uuid.UUID]*domain.Quota
	Vouchers   map[uuid.UUID]*domain.Voucher
	Seats      map[uuid.UUID]*domain.Seat

	// ProductQuotas maps a product to the quota IDs covering it.
	ProductQuotas map[uuid.UUID][]uuid.UUID

	// Confirmed is per-quota consumption by finalized orders.
	Confirmed map[uuid.UUID]int

	// OrdersByEmail backs the one-ticket-per-user lookup.
	OrdersByEmail map[string]map[uuid.UUID]bool

	positions map[uuid.UUID]domain.CartPosition

	txMu sync.Mutex
}

func NewMemStore() *MemStore {
	return &MemStore{
		Products:      map[uuid.UUID]*domain.Product{},
		Variations:    map[uuid.UUID]*domain.ProductVariation{},
		SubEvents:     map[uuid.UUID]*domain.SubEvent{},
		TaxRules:      map[uuid.UUID]*pricing.TaxRule{},
		Quotas:        map[uuid.UUID]*domain.Quota{},
		Vouchers:      map[uuid.UUID]*domain.Voucher{},
		Seats:         map[uuid.UUID]*domain.Seat{},
		ProductQuotas: map[uuid.UUID][]uuid.UUID{},
		Confirmed:     map[uuid.UUID]int{},
		OrdersByEmail: map[string]map[uuid.UUID]bool{},
		positions:     map[uuid.UUID]domain.CartPosition{},
	}
}

func (s *MemStore) ProductsByID(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[uuid.UUID]*domain.Product{}
	for _, id := range ids {
		if p, ok := s.Products[id]; ok && p.EventID == eventID {
			out[id] = p
		}
	}
	return out, nil
}

func (s *MemStore) VariationsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.ProductVariation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[uuid.UUID]*domain.ProductVariation{}
	for _, id := range ids {
		if v, ok := s.Variations[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *MemStore) SubEventsByID(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*domain.SubEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[uuid.UUID]*domain.SubEvent{}
	for _, id := range ids {
		if se, ok := s.SubEvents[id]; ok && se.EventID == eventID {
			out[id] = se
		}
	}
	return out, nil
}

func (s *MemStore) TaxRuleByID(ctx context.Context, id *uuid.UUID) (*pricing.TaxRule, error) {
	if id == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TaxRules[*id], nil
}

func (s *MemStore) QuotasFor(ctx context.Context, productID uuid.UUID, variationID *uuid.UUID, subEventID *uuid.UUID) ([]*domain.Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Quota
	for _, qid := range s.ProductQuotas[productID] {
		q, ok := s.Quotas[qid]
		if !ok {
			continue
		}
		if q.SubEventID != nil && (subEventID == nil || *q.SubEventID != *subEventID) {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *MemStore) VoucherByCode(ctx context.Context, eventID uuid.UUID, code string) (*domain.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.Vouchers {
		if v.EventID == eventID && domain.NormalizeVoucherCode(v.Code) == code {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) VoucherByID(ctx context.Context, id uuid.UUID) (*domain.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Vouchers[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (s *MemStore) VoucherCartCount(ctx context.Context, voucherID uuid.UUID, excludePositionIDs []uuid.UUID, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	excluded := map[uuid.UUID]bool{}
	for _, id := range excludePositionIDs {
		excluded[id] = true
	}
	count := 0
	for _, pos := range s.positions {
		if pos.VoucherID != nil && *pos.VoucherID == voucherID && pos.Expires.After(now) && !excluded[pos.ID] {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) SeatByGUID(ctx context.Context, eventID uuid.UUID, subEventID *uuid.UUID, guid string) (*domain.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, seat := range s.Seats {
		if seat.EventID != eventID || seat.GUID != guid {
			continue
		}
		if seat.SubEventID != nil && (subEventID == nil || *seat.SubEventID != *subEventID) {
			continue
		}
		return seat, nil
	}
	return nil, nil
}

func (s *MemStore) SeatByID(ctx context.Context, id uuid.UUID) (*domain.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Seats[id], nil
}

func (s *MemStore) SeatTaken(ctx context.Context, seatID uuid.UUID, excludeCartID string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pos := range s.positions {
		if pos.SeatID != nil && *pos.SeatID == seatID && pos.CartID != excludeCartID && pos.Expires.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) Positions(ctx context.Context, eventID uuid.UUID, cartID string) ([]domain.CartPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CartPosition
	for _, pos := range s.positions {
		if pos.EventID == eventID && pos.CartID == cartID {
			out = append(out, pos)
		}
	}
	return out, nil
}

// AllPositions returns every stored position; test helper.
func (s *MemStore) AllPositions() []domain.CartPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CartPosition, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	return out
}

func (s *MemStore) InsertPositions(ctx context.Context, positions []domain.CartPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range positions {
		s.positions[pos.ID] = pos
	}
	return nil
}

func (s *MemStore) UpdatePosition(ctx context.Context, pos domain.CartPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; !ok {
		return domain.ErrPositionGone
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *MemStore) DeletePositions(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doomed := map[uuid.UUID]bool{}
	for _, id := range ids {
		doomed[id] = true
	}
	// children cascade with their parent
	for _, pos := range s.positions {
		if pos.AddonToID != nil && doomed[*pos.AddonToID] {
			doomed[pos.ID] = true
		}
	}
	for id := range doomed {
		delete(s.positions, id)
	}
	return nil
}

func (s *MemStore) ExtendExpiry(ctx context.Context, eventID uuid.UUID, cartID string, expiry time.Time, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pos := range s.positions {
		if pos.EventID == eventID && pos.CartID == cartID && pos.Expires.After(now) {
			pos.Expires = expiry
			s.positions[id] = pos
		}
	}
	return nil
}

func (s *MemStore) HasOrderWithProduct(ctx context.Context, eventID uuid.UUID, email string, productID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.OrdersByEmail[email][productID], nil
}

func (s *MemStore) ConfirmedByQuota(ctx context.Context, quotaIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[uuid.UUID]int{}
	for _, id := range quotaIDs {
		out[id] = s.Confirmed[id]
	}
	return out, nil
}

func (s *MemStore) ReservedByQuota(ctx context.Context, quotaIDs []uuid.UUID, now time.Time) (map[uuid.UUID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range quotaIDs {
		wanted[id] = true
	}
	out := map[uuid.UUID]int{}
	for _, pos := range s.positions {
		if !pos.Expires.After(now) {
			continue
		}
		if pos.VoucherID != nil {
			if v, ok := s.Vouchers[*pos.VoucherID]; ok && (v.AllowIgnoreQuota || v.BlockQuota) {
				continue
			}
		}
		for _, qid := range s.ProductQuotas[pos.ProductID] {
			if wanted[qid] {
				out[qid]++
			}
		}
	}
	return out, nil
}

// InTx serializes all transactions on one mutex and rolls the position
// table back when fn fails, mimicking a database transaction closely
// enough for the engine's semantics.
func (s *MemStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[uuid.UUID]domain.CartPosition, len(s.positions))
	for id, pos := range s.positions {
		snapshot[id] = pos
	}
	s.mu.RUnlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.positions = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}
