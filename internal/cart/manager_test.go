package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/locking"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	store  *MemStore
	event  *domain.Event
	locker *locking.MemoryLocker
}

func newFixture() *fixture {
	return &fixture{
		store: NewMemStore(),
		event: &domain.Event{
			ID:       uuid.New(),
			Slug:     "conf",
			Name:     "Conference",
			Currency: "EUR",
			Settings: domain.EventSettings{
				ReservationTime:     30,
				MaxProductsPerOrder: 10,
			},
		},
		locker: locking.NewMemoryLocker(5 * time.Second),
	}
}

// product registers a sellable product with one quota of the given size;
// size < 0 means unlimited.
func (f *fixture) product(name, price string, quotaSize int) (*domain.Product, *domain.Quota) {
	p := &domain.Product{
		ID:            uuid.New(),
		EventID:       f.event.ID,
		Name:          name,
		Active:        true,
		DefaultPrice:  dec(price),
		SalesChannels: []string{"web"},
	}
	f.store.Products[p.ID] = p

	q := &domain.Quota{ID: uuid.New(), EventID: f.event.ID, Name: name + " quota"}
	if quotaSize >= 0 {
		size := quotaSize
		q.Size = &size
	}
	f.store.Quotas[q.ID] = q
	f.store.ProductQuotas[p.ID] = []uuid.UUID{q.ID}
	return p, q
}

func (f *fixture) manager(cartID string) *Manager {
	return New(Config{
		Store:        f.store,
		Locker:       f.locker,
		Event:        f.event,
		CartID:       cartID,
		SalesChannel: "web",
	})
}

func (f *fixture) insertPosition(cartID string, p *domain.Product, price string, expires time.Time) domain.CartPosition {
	pos := domain.CartPosition{
		ID:          uuid.New(),
		EventID:     f.event.ID,
		CartID:      cartID,
		ProductID:   p.ID,
		Price:       dec(price),
		Expires:     expires,
		IncludesTax: true,
	}
	if err := f.store.InsertPositions(context.Background(), []domain.CartPosition{pos}); err != nil {
		panic(err)
	}
	return pos
}

func TestAddProducts_Guards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	available, _ := f.product("Regular", "10.00", -1)

	inactive, _ := f.product("Inactive", "10.00", -1)
	inactive.Active = false

	wrongChannel, _ := f.product("Phone only", "10.00", -1)
	wrongChannel.SalesChannels = []string{"phone"}

	addonOnly, _ := f.product("Workshop", "10.00", -1)
	addonOnly.Category = &domain.Category{ID: uuid.New(), Name: "Workshops", IsAddon: true}

	bundleOnly, _ := f.product("Badge", "0.00", -1)
	bundleOnly.RequireBundling = true

	voucherOnly, _ := f.product("Backstage", "99.00", -1)
	voucherOnly.RequireVoucher = true

	seated, _ := f.product("Seat ticket", "30.00", -1)
	seated.RequiresSeat = true

	tests := []struct {
		name     string
		items    []ItemRequest
		wantCode string
	}{
		{
			name:     "empty request",
			items:    nil,
			wantCode: CodeEmptyCart,
		},
		{
			name:     "unknown product",
			items:    []ItemRequest{{ProductID: uuid.New(), Count: 1}},
			wantCode: CodeNotForSale,
		},
		{
			name:     "inactive product",
			items:    []ItemRequest{{ProductID: inactive.ID, Count: 1}},
			wantCode: CodeNotForSale,
		},
		{
			name:     "wrong sales channel",
			items:    []ItemRequest{{ProductID: wrongChannel.ID, Count: 1}},
			wantCode: CodeNotForSale,
		},
		{
			name:     "addon category product added top-level",
			items:    []ItemRequest{{ProductID: addonOnly.ID, Count: 1}},
			wantCode: CodeAddonOnly,
		},
		{
			name:     "bundling-only product added standalone",
			items:    []ItemRequest{{ProductID: bundleOnly.ID, Count: 1}},
			wantCode: CodeBundledOnly,
		},
		{
			name:     "voucher required",
			items:    []ItemRequest{{ProductID: voucherOnly.ID, Count: 1}},
			wantCode: CodeVoucherRequired,
		},
		{
			name:     "unknown voucher code",
			items:    []ItemRequest{{ProductID: available.ID, Count: 1, VoucherCode: "NOPE"}},
			wantCode: CodeVoucherInvalid,
		},
		{
			name:     "seat required",
			items:    []ItemRequest{{ProductID: seated.ID, Count: 1}},
			wantCode: CodeSeatRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := f.manager("cart-" + tt.name)
			err := m.AddProducts(ctx, tt.items)
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.wantCode), "got %v, want code %s", err, tt.wantCode)
			assert.Empty(t, m.ops, "failed planning call must not queue operations")
		})
	}
}

func TestAddProducts_VariationRequired(t *testing.T) {
	f := newFixture()
	p, _ := f.product("Shirt", "20.00", -1)
	p.HasVariations = true

	m := f.manager("cart-a")
	err := m.AddProducts(context.Background(), []ItemRequest{{ProductID: p.ID, Count: 1}})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNotForSale))

	v := &domain.ProductVariation{ID: uuid.New(), ProductID: p.ID, Name: "L", Active: true}
	f.store.Variations[v.ID] = v

	m = f.manager("cart-b")
	err = m.AddProducts(context.Background(), []ItemRequest{{ProductID: p.ID, VariationID: &v.ID, Count: 1}})
	require.NoError(t, err)
}

func TestAddProducts_FailedCallKeepsEarlierOps(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	good, _ := f.product("Good", "10.00", -1)

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: good.ID, Count: 1}}))
	require.Len(t, m.ops, 1)

	err := m.AddProducts(ctx, []ItemRequest{{ProductID: uuid.New(), Count: 1}})
	require.Error(t, err)
	assert.Len(t, m.ops, 1, "earlier queued operations survive a failed planning call")
}

func TestAddProducts_FailedBatchQueuesNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	good, _ := f.product("Good", "10.00", 5)

	m := f.manager("cart-a")
	err := m.AddProducts(ctx, []ItemRequest{
		{ProductID: good.ID, Count: 1},
		{ProductID: uuid.New(), Count: 1},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNotForSale))
	assert.Empty(t, m.ops, "a failed batch must not queue its valid lines")
	assert.Empty(t, m.quotaDiff, "a failed batch must not track quota demand")
	assert.Empty(t, m.voucherDiff)
}

func TestRemoveProduct_Unknown(t *testing.T) {
	f := newFixture()
	m := f.manager("cart-a")
	err := m.RemoveProduct(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnknownPosition))
}

func TestRemoveProduct_OtherCartsPositionIsInvisible(t *testing.T) {
	f := newFixture()
	p, _ := f.product("Ticket", "10.00", -1)
	pos := f.insertPosition("cart-b", p, "10.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	err := m.RemoveProduct(context.Background(), pos.ID)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnknownPosition))
}

func TestApplyVoucher_CannotCombine(t *testing.T) {
	f := newFixture()
	p, _ := f.product("Ticket", "10.00", -1)

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(context.Background(), []ItemRequest{{ProductID: p.ID, Count: 1}}))

	err := m.ApplyVoucher(context.Background(), "ANY")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeVoucherDouble))
}

func TestApplyVoucher_NoMatch(t *testing.T) {
	f := newFixture()
	p, _ := f.product("Ticket", "10.00", -1)
	other, _ := f.product("Other", "10.00", -1)

	v := &domain.Voucher{
		ID:        uuid.New(),
		EventID:   f.event.ID,
		Code:      "HALF",
		MaxUsages: 10,
		PriceMode: domain.VoucherPriceModePercent,
		Value:     dec("50"),
		ProductID: &other.ID,
	}
	f.store.Vouchers[v.ID] = v

	f.insertPosition("cart-a", p, "10.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	err := m.ApplyVoucher(context.Background(), "half")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeVoucherNoMatch))
}

func TestErrorRendering(t *testing.T) {
	err := newErrorf(CodeMaxProducts, map[string]any{"max": 10})
	assert.Equal(t, "You cannot select more than 10 products per order.", err.Error())

	err = newErrorf(CodeInPart, map[string]any{"product": "Ticket", "count": 3})
	assert.Contains(t, err.Error(), "Ticket")
	assert.Contains(t, err.Error(), "3")
}
