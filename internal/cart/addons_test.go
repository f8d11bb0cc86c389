package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/sigyn/internal/domain"
)

type addonFixture struct {
	*fixture
	base     *domain.Product
	workshop *domain.Product
	category *domain.Category
}

func newAddonFixture(maxCount int, multiAllowed bool) *addonFixture {
	f := newFixture()
	base, _ := f.product("Conference Pass", "100.00", 10)
	workshop, _ := f.product("Workshop", "25.00", 10)

	cat := &domain.Category{ID: uuid.New(), Name: "Workshops", IsAddon: true}
	workshop.Category = cat
	base.Addons = []domain.AddonRule{{
		AddonCategoryID:   cat.ID,
		AddonCategoryName: cat.Name,
		MaxCount:          maxCount,
		MultiAllowed:      multiAllowed,
	}}
	return &addonFixture{fixture: f, base: base, workshop: workshop, category: cat}
}

func TestSetAddons_AttachAndDetach(t *testing.T) {
	f := newAddonFixture(3, true)
	ctx := context.Background()
	basePos := f.insertPosition("cart-a", f.base, "100.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	require.NoError(t, m.SetAddons(ctx, []AddonSelection{{
		BasePositionID: basePos.ID,
		ProductID:      f.workshop.ID,
		Count:          2,
	}}))
	_, err := m.Commit(ctx)
	require.NoError(t, err)

	addons := 0
	for _, pos := range f.store.AllPositions() {
		if pos.AddonToID != nil {
			addons++
			assert.Equal(t, basePos.ID, *pos.AddonToID)
			assert.Equal(t, f.workshop.ID, pos.ProductID)
			assert.False(t, pos.IsBundled)
			assert.True(t, pos.Price.Equal(dec("25.00")))
		}
	}
	assert.Equal(t, 2, addons)

	// an empty selection detaches everything
	m = f.manager("cart-a")
	require.NoError(t, m.SetAddons(ctx, nil))
	_, err = m.Commit(ctx)
	require.NoError(t, err)

	for _, pos := range f.store.AllPositions() {
		assert.Nil(t, pos.AddonToID)
	}
}

func TestSetAddons_MaxCount(t *testing.T) {
	f := newAddonFixture(1, true)
	basePos := f.insertPosition("cart-a", f.base, "100.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	err := m.SetAddons(context.Background(), []AddonSelection{{
		BasePositionID: basePos.ID,
		ProductID:      f.workshop.ID,
		Count:          2,
	}})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeAddonMaxCount))
}

func TestSetAddons_NoMulti(t *testing.T) {
	f := newAddonFixture(5, false)
	basePos := f.insertPosition("cart-a", f.base, "100.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	err := m.SetAddons(context.Background(), []AddonSelection{{
		BasePositionID: basePos.ID,
		ProductID:      f.workshop.ID,
		Count:          2,
	}})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeAddonNoMulti))
}

func TestSetAddons_MinCount(t *testing.T) {
	f := newAddonFixture(3, true)
	f.base.Addons[0].MinCount = 1
	basePos := f.insertPosition("cart-a", f.base, "100.00", time.Now().Add(time.Hour))
	_ = basePos

	m := f.manager("cart-a")
	err := m.SetAddons(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeAddonMinCount))
}

func TestSetAddons_InvalidBase(t *testing.T) {
	f := newAddonFixture(3, true)

	m := f.manager("cart-a")
	err := m.SetAddons(context.Background(), []AddonSelection{{
		BasePositionID: uuid.New(),
		ProductID:      f.workshop.ID,
		Count:          1,
	}})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeAddonInvalidBase))
}

func TestSetAddons_RepricesDriftedAddon(t *testing.T) {
	f := newAddonFixture(3, true)
	ctx := context.Background()
	basePos := f.insertPosition("cart-a", f.base, "100.00", time.Now().Add(time.Hour))

	stale := domain.CartPosition{
		ID:          uuid.New(),
		EventID:     f.event.ID,
		CartID:      "cart-a",
		ProductID:   f.workshop.ID,
		Price:       dec("20.00"),
		Expires:     time.Now().Add(time.Hour),
		AddonToID:   &basePos.ID,
		IncludesTax: true,
	}
	require.NoError(t, f.store.InsertPositions(ctx, []domain.CartPosition{stale}))

	m := f.manager("cart-a")
	require.NoError(t, m.SetAddons(ctx, []AddonSelection{{
		BasePositionID: basePos.ID,
		ProductID:      f.workshop.ID,
		Count:          1,
	}}))
	_, err := m.Commit(ctx)
	require.NoError(t, err)

	for _, pos := range f.store.AllPositions() {
		if pos.ID == stale.ID {
			assert.True(t, pos.Price.Equal(dec("25.00")), "drifted price fixed to %s", pos.Price)
		}
	}
}

type rejectAllValidator struct{}

func (rejectAllValidator) ValidateAddons(ctx context.Context, base domain.CartPosition, category *domain.Category, selected map[uuid.UUID]int) error {
	return newError(CodeAddonInvalidBase)
}

func TestSetAddons_ValidatorHook(t *testing.T) {
	f := newAddonFixture(3, true)
	basePos := f.insertPosition("cart-a", f.base, "100.00", time.Now().Add(time.Hour))

	m := New(Config{
		Store:           f.store,
		Locker:          f.locker,
		Event:           f.event,
		CartID:          "cart-a",
		SalesChannel:    "web",
		AddonValidators: []AddonValidator{rejectAllValidator{}},
	})
	err := m.SetAddons(context.Background(), []AddonSelection{{
		BasePositionID: basePos.ID,
		ProductID:      f.workshop.ID,
		Count:          1,
	}})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeAddonInvalidBase))
}
