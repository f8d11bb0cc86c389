package quota

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/sigyn/internal/domain"
)

type fakeSource struct {
	confirmed map[uuid.UUID]int
	reserved  map[uuid.UUID]int

	confirmedCalls int
	reservedCalls  int
}

func (f *fakeSource) ConfirmedByQuota(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	f.confirmedCalls++
	out := make(map[uuid.UUID]int)
	for _, id := range ids {
		out[id] = f.confirmed[id]
	}
	return out, nil
}

func (f *fakeSource) ReservedByQuota(ctx context.Context, ids []uuid.UUID, now time.Time) (map[uuid.UUID]int, error) {
	f.reservedCalls++
	out := make(map[uuid.UUID]int)
	for _, id := range ids {
		out[id] = f.reserved[id]
	}
	return out, nil
}

func sized(n int) *domain.Quota {
	return &domain.Quota{ID: uuid.New(), Size: &n}
}

func TestOracle_Availability(t *testing.T) {
	now := time.Now()

	limited := sized(10)
	exhausted := sized(3)
	unlimited := &domain.Quota{ID: uuid.New()}

	src := &fakeSource{
		confirmed: map[uuid.UUID]int{limited.ID: 4, exhausted.ID: 2},
		reserved:  map[uuid.UUID]int{limited.ID: 3, exhausted.ID: 5},
	}
	oracle := NewOracle(src)

	avail, err := oracle.Availability(context.Background(), []*domain.Quota{limited, exhausted, unlimited}, now, false)
	require.NoError(t, err)

	assert.Equal(t, Availability{Count: 3}, avail[limited.ID])
	// over-consumed quota is floored at zero, never negative
	assert.Equal(t, Availability{Count: 0}, avail[exhausted.ID])
	assert.True(t, avail[unlimited.ID].Unlimited)
}

func TestOracle_CacheWithinPass(t *testing.T) {
	now := time.Now()
	q := sized(5)
	src := &fakeSource{confirmed: map[uuid.UUID]int{q.ID: 1}}
	oracle := NewOracle(src)

	_, err := oracle.Availability(context.Background(), []*domain.Quota{q}, now, true)
	require.NoError(t, err)
	_, err = oracle.Availability(context.Background(), []*domain.Quota{q}, now, true)
	require.NoError(t, err)
	assert.Equal(t, 1, src.confirmedCalls)

	// bypassing the cache recounts
	_, err = oracle.Availability(context.Background(), []*domain.Quota{q}, now, false)
	require.NoError(t, err)
	assert.Equal(t, 2, src.confirmedCalls)
}

func TestOracle_UnlimitedNeedsNoQueries(t *testing.T) {
	src := &fakeSource{}
	oracle := NewOracle(src)

	avail, err := oracle.Availability(context.Background(), []*domain.Quota{{ID: uuid.New()}}, time.Now(), false)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Zero(t, src.confirmedCalls)
	assert.Zero(t, src.reservedCalls)
}

func TestAvailability_AtLeast(t *testing.T) {
	assert.True(t, Availability{Unlimited: true}.AtLeast(1000))
	assert.True(t, Availability{Count: 3}.AtLeast(3))
	assert.False(t, Availability{Count: 3}.AtLeast(4))
}
