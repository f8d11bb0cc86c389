package quota

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/sigyn/internal/domain"
)

// Source provides the two counters availability is computed from. Both are
// batch queries keyed by quota ID; missing keys mean zero.
type Source interface {
	// ConfirmedByQuota counts units consumed by paid or pending orders.
	ConfirmedByQuota(ctx context.Context, quotaIDs []uuid.UUID) (map[uuid.UUID]int, error)

	// ReservedByQuota counts unexpired cart positions across all carts.
	// A cart's own expired positions drop out of this count, which is what
	// lets an extension re-contend for their capacity. Positions whose
	// voucher blocks its own quota are not counted, they draw from the
	// voucher's reserved capacity instead.
	ReservedByQuota(ctx context.Context, quotaIDs []uuid.UUID, now time.Time) (map[uuid.UUID]int, error)
}

// Availability is the answer for one quota. Unlimited quotas never block a
// sale; Count is meaningless for them.
type Availability struct {
	Unlimited bool
	Count     int
}

// AtLeast reports whether n more units fit.
func (a Availability) AtLeast(n int) bool {
	return a.Unlimited || a.Count >= n
}

// Oracle computes per-quota spare capacity. It caches results for the
// lifetime of one planning pass; commit-time checks bypass the cache to see
// the freshest counters.
type Oracle struct {
	src   Source
	cache map[uuid.UUID]Availability
}

func NewOracle(src Source) *Oracle {
	return &Oracle{
		src:   src,
		cache: make(map[uuid.UUID]Availability),
	}
}

// Availability computes spare capacity for each given quota as of now.
// With allowCache set, results from earlier calls in the same pass are
// reused; without it, every quota is recounted and the cache refreshed.
func (o *Oracle) Availability(ctx context.Context, quotas []*domain.Quota, now time.Time, allowCache bool) (map[uuid.UUID]Availability, error) {
	out := make(map[uuid.UUID]Availability, len(quotas))

	var missing []*domain.Quota
	for _, q := range quotas {
		if q.Unlimited() {
			out[q.ID] = Availability{Unlimited: true}
			continue
		}
		if allowCache {
			if av, ok := o.cache[q.ID]; ok {
				out[q.ID] = av
				continue
			}
		}
		missing = append(missing, q)
	}
	if len(missing) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, len(missing))
	for i, q := range missing {
		ids[i] = q.ID
	}

	confirmed, err := o.src.ConfirmedByQuota(ctx, ids)
	if err != nil {
		return nil, domain.Internal(err, "quota.availability", "failed to count confirmed orders")
	}
	reserved, err := o.src.ReservedByQuota(ctx, ids, now)
	if err != nil {
		return nil, domain.Internal(err, "quota.availability", "failed to count cart reservations")
	}

	for _, q := range missing {
		n := *q.Size - confirmed[q.ID] - reserved[q.ID]
		if n < 0 {
			n = 0
		}
		av := Availability{Count: n}
		o.cache[q.ID] = av
		out[q.ID] = av
	}
	return out, nil
}
