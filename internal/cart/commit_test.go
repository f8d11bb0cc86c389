package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/locking"
	"github.com/dukerupert/sigyn/internal/telemetry"
)

func TestCommit_AddCreatesPositions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "23.00", 10)

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 2}}))
	warning, err := m.Commit(ctx)
	require.NoError(t, err)
	assert.Nil(t, warning)

	positions := f.store.AllPositions()
	require.Len(t, positions, 2)
	for _, pos := range positions {
		assert.Equal(t, "cart-a", pos.CartID)
		assert.True(t, pos.Price.Equal(dec("23.00")))
		assert.True(t, pos.Expires.After(time.Now()))
	}
}

func TestCommit_PartialFulfillment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 3)

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 5}}))
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInPart), "got %v", err)

	// exactly the available amount, never more, never zero
	assert.Len(t, f.store.AllPositions(), 3)
}

func TestCommit_QuotaExhausted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, q := f.product("Ticket", "10.00", 2)
	f.store.Confirmed[q.ID] = 2

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1}}))
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnavailable))
	assert.Empty(t, f.store.AllPositions())
}

// Two carts race for a quota of one. Exactly one position may exist
// afterwards; the loser sees an availability error.
func TestCommit_ConcurrentAddsQuotaOfOne(t *testing.T) {
	f := newFixture()
	p, _ := f.product("Last ticket", "10.00", 1)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, cartID := range []string{"cart-a", "cart-b"} {
		wg.Add(1)
		go func(i int, cartID string) {
			defer wg.Done()
			ctx := context.Background()
			m := f.manager(cartID)
			if err := m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1}}); err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = m.Commit(ctx)
		}(i, cartID)
	}
	wg.Wait()

	assert.Len(t, f.store.AllPositions(), 1, "quota of one must never yield two reservations")

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, IsCode(err, CodeUnavailable), "got %v", err)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

// Many workers hammer one quota; live reservations never exceed its size.
func TestCommit_QuotaConservationUnderLoad(t *testing.T) {
	f := newFixture()
	const size = 3
	p, _ := f.product("Ticket", "10.00", size)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			m := f.manager(uuid.NewString())
			if err := m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1}}); err != nil {
				return
			}
			_, _ = m.Commit(ctx)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.store.AllPositions(), size)
}

// A removal inside the batch frees its capacity for an addition in the
// same commit.
func TestCommit_RemoveFreesCapacityForAdd(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 1)
	old := f.insertPosition("cart-a", p, "10.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	require.NoError(t, m.RemoveProduct(ctx, old.ID))
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1}}))
	_, err := m.Commit(ctx)
	require.NoError(t, err)

	positions := f.store.AllPositions()
	require.Len(t, positions, 1)
	assert.NotEqual(t, old.ID, positions[0].ID)
}

func TestCommit_WithoutRemovalAddIsRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 1)
	f.insertPosition("cart-b", p, "10.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1}}))
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnavailable))
	assert.Len(t, f.store.AllPositions(), 1)
}

func TestExtend_NotExpiredIsNoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 5)
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	pos := f.insertPosition("cart-a", p, "10.00", expires)

	m := f.manager("cart-a")
	require.NoError(t, m.ExtendExpiredPositions(ctx))
	assert.Empty(t, m.ops)

	warning, err := m.Commit(ctx)
	require.NoError(t, err)
	assert.Nil(t, warning)

	positions := f.store.AllPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, pos.ID, positions[0].ID)
	assert.True(t, positions[0].Expires.Equal(expires), "expiry must be untouched")
	assert.True(t, positions[0].Price.Equal(dec("10.00")))
}

func TestExtend_ExpiredIsRenewedAtCurrentPrice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 5)
	pos := f.insertPosition("cart-a", p, "10.00", time.Now().Add(-time.Minute))

	p.DefaultPrice = dec("12.00")

	m := f.manager("cart-a")
	_, err := m.Commit(ctx)
	require.NoError(t, err)

	positions := f.store.AllPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, pos.ID, positions[0].ID)
	assert.True(t, positions[0].Expires.After(time.Now()))
	assert.True(t, positions[0].Price.Equal(dec("12.00")), "price = %s", positions[0].Price)
}

func TestExtend_VanishedQuotaRemovesPosition(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 5)
	f.insertPosition("cart-a", p, "10.00", time.Now().Add(-time.Minute))

	delete(f.store.ProductQuotas, p.ID)

	m := f.manager("cart-a")
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnavailable))
	assert.Empty(t, f.store.AllPositions())
}

func TestExtend_ExpiredLosesRaceToOtherCart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Last ticket", "10.00", 1)
	f.insertPosition("cart-a", p, "10.00", time.Now().Add(-time.Minute))

	// another cart snatched the capacity while cart-a's reservation lay
	// expired
	f.insertPosition("cart-b", p, "10.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnavailable))

	positions := f.store.AllPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "cart-b", positions[0].CartID)
}

func TestCommit_VoucherExclusivity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "20.00", 10)

	v := &domain.Voucher{
		ID:        uuid.New(),
		EventID:   f.event.ID,
		Code:      "GOLD",
		MaxUsages: 1,
		PriceMode: domain.VoucherPriceModePercent,
		Value:     dec("50"),
	}
	f.store.Vouchers[v.ID] = v

	f.insertPosition("cart-a", p, "20.00", time.Now().Add(time.Hour))
	f.insertPosition("cart-b", p, "20.00", time.Now().Add(time.Hour))

	ma := f.manager("cart-a")
	require.NoError(t, ma.ApplyVoucher(ctx, "GOLD"))
	_, err := ma.Commit(ctx)
	require.NoError(t, err)

	mb := f.manager("cart-b")
	require.NoError(t, mb.ApplyVoucher(ctx, "GOLD"))
	_, err = mb.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeVoucherRedeemedCart), "got %v", err)

	redeemedIn := 0
	for _, pos := range f.store.AllPositions() {
		if pos.VoucherID != nil {
			redeemedIn++
			assert.Equal(t, "cart-a", pos.CartID)
			assert.True(t, pos.Price.Equal(dec("10.00")))
			require.NotNil(t, pos.PriceBeforeVoucher)
			assert.True(t, pos.PriceBeforeVoucher.Equal(dec("20.00")))
		}
	}
	assert.Equal(t, 1, redeemedIn)
}

// An add whose voucher budget is held by another cart's live reservation
// must say so, including how long the hold can last, instead of blaming
// product availability.
func TestCommit_AddVoucherHeldByOtherCart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "20.00", 10)

	v := &domain.Voucher{
		ID:        uuid.New(),
		EventID:   f.event.ID,
		Code:      "GOLD",
		MaxUsages: 1,
		PriceMode: domain.VoucherPriceModePercent,
		Value:     dec("50"),
	}
	f.store.Vouchers[v.ID] = v

	ma := f.manager("cart-a")
	require.NoError(t, ma.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1, VoucherCode: "GOLD"}}))
	_, err := ma.Commit(ctx)
	require.NoError(t, err)

	mb := f.manager("cart-b")
	require.NoError(t, mb.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1, VoucherCode: "GOLD"}}))
	_, err = mb.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeVoucherRedeemedCart), "got %v", err)

	var cartErr *Error
	require.ErrorAs(t, err, &cartErr)
	assert.Equal(t, f.event.Settings.ReservationTime, cartErr.Args["minutes"])

	positions := f.store.AllPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "cart-a", positions[0].CartID)
}

// With part of the voucher budget held elsewhere, the clip is reported as
// a partial redemption rather than partial product availability.
func TestCommit_AddVoucherPartiallyHeld(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "20.00", 10)

	v := &domain.Voucher{
		ID:        uuid.New(),
		EventID:   f.event.ID,
		Code:      "GOLD",
		MaxUsages: 3,
		PriceMode: domain.VoucherPriceModePercent,
		Value:     dec("50"),
	}
	f.store.Vouchers[v.ID] = v

	ma := f.manager("cart-a")
	require.NoError(t, ma.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 2, VoucherCode: "GOLD"}}))
	_, err := ma.Commit(ctx)
	require.NoError(t, err)

	mb := f.manager("cart-b")
	require.NoError(t, mb.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 3, VoucherCode: "GOLD"}}))
	_, err = mb.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeVoucherRedeemedPartial), "got %v", err)

	got := 0
	for _, pos := range f.store.AllPositions() {
		if pos.CartID == "cart-b" {
			got++
		}
	}
	assert.Equal(t, 1, got, "only the remaining voucher budget is fulfilled")
}

func TestCommit_ConcurrentVoucherExclusivity(t *testing.T) {
	f := newFixture()
	p, _ := f.product("Ticket", "20.00", 10)

	v := &domain.Voucher{
		ID:        uuid.New(),
		EventID:   f.event.ID,
		Code:      "GOLD",
		MaxUsages: 1,
		PriceMode: domain.VoucherPriceModeSet,
		Value:     dec("5.00"),
	}
	f.store.Vouchers[v.ID] = v

	carts := []string{"cart-a", "cart-b"}
	for _, c := range carts {
		f.insertPosition(c, p, "20.00", time.Now().Add(time.Hour))
	}

	var wg sync.WaitGroup
	for _, c := range carts {
		wg.Add(1)
		go func(cartID string) {
			defer wg.Done()
			ctx := context.Background()
			m := f.manager(cartID)
			if err := m.ApplyVoucher(ctx, "GOLD"); err != nil {
				return
			}
			_, _ = m.Commit(ctx)
		}(c)
	}
	wg.Wait()

	redeemed := 0
	for _, pos := range f.store.AllPositions() {
		if pos.VoucherID != nil {
			redeemed++
		}
	}
	assert.Equal(t, 1, redeemed, "a voucher with one use must never be held twice")
}

// With more eligible positions than remaining uses, the voucher goes to
// the position where it saves the most; the rest fail silently.
func TestCommit_VoucherGreedyAssignment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cheap, _ := f.product("Cheap", "10.00", 10)
	pricey, _ := f.product("Pricey", "50.00", 10)

	v := &domain.Voucher{
		ID:        uuid.New(),
		EventID:   f.event.ID,
		Code:      "HALF",
		MaxUsages: 1,
		PriceMode: domain.VoucherPriceModePercent,
		Value:     dec("50"),
	}
	f.store.Vouchers[v.ID] = v

	f.insertPosition("cart-a", cheap, "10.00", time.Now().Add(time.Hour))
	priceyPos := f.insertPosition("cart-a", pricey, "50.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	require.NoError(t, m.ApplyVoucher(ctx, "HALF"))
	_, err := m.Commit(ctx)
	require.NoError(t, err)

	for _, pos := range f.store.AllPositions() {
		if pos.ID == priceyPos.ID {
			require.NotNil(t, pos.VoucherID)
			assert.True(t, pos.Price.Equal(dec("25.00")))
		} else {
			assert.Nil(t, pos.VoucherID)
			assert.True(t, pos.Price.Equal(dec("10.00")))
		}
	}
}

// A bundle parent's stored price is net of its children's designated
// prices; a later voucher application must discount the full list price
// and then subtract the bundled sum again.
func TestApplyVoucher_BundleParentKeepsBundledSum(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pass, _ := f.product("Conference Pass", "100.00", 10)
	badge, _ := f.product("Badge", "0.00", -1)
	badge.RequireBundling = true
	pass.Bundles = []domain.Bundle{{
		BundledProductID: badge.ID,
		Count:            1,
		DesignatedPrice:  dec("20.00"),
	}}

	v := &domain.Voucher{
		ID:        uuid.New(),
		EventID:   f.event.ID,
		Code:      "HALF",
		MaxUsages: 10,
		PriceMode: domain.VoucherPriceModePercent,
		Value:     dec("50"),
	}
	f.store.Vouchers[v.ID] = v

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: pass.ID, Count: 1}}))
	_, err := m.Commit(ctx)
	require.NoError(t, err)

	m = f.manager("cart-a")
	require.NoError(t, m.ApplyVoucher(ctx, "HALF"))
	_, err = m.Commit(ctx)
	require.NoError(t, err)

	for _, pos := range f.store.AllPositions() {
		if pos.ProductID == pass.ID {
			// 50% of 100.00, minus the 20.00 bundled badge
			assert.True(t, pos.Price.Equal(dec("30.00")), "price = %s", pos.Price)
			require.NotNil(t, pos.PriceBeforeVoucher)
			assert.True(t, pos.PriceBeforeVoucher.Equal(dec("80.00")))
		} else {
			assert.True(t, pos.Price.Equal(dec("20.00")))
			assert.Nil(t, pos.VoucherID, "bundled children never receive the voucher")
		}
	}
}

func TestCommit_MinPerProductCompensatingRemoval(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Duo ticket", "10.00", 10)
	p.MinPerOrder = 2
	f.insertPosition("cart-a", p, "10.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeMinPerProductRemoved), "got %v", err)
	assert.Empty(t, f.store.AllPositions(), "the under-minimum line is removed, not kept")
}

func TestCommit_MinPerProductHardFailureWhenAdding(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Duo ticket", "10.00", 10)
	p.MinPerOrder = 2

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1}}))
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeMinPerProduct))
	assert.Empty(t, f.store.AllPositions())
}

func TestCommit_MaxPerProduct(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 10)
	p.MaxPerOrder = 2

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 3}}))
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeMaxPerProduct))
	assert.Empty(t, f.store.AllPositions())
}

func TestCommit_MaxCartSize(t *testing.T) {
	f := newFixture()
	f.event.Settings.MaxProductsPerOrder = 2
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 10)

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 3}}))
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeMaxProducts))
	assert.Empty(t, f.store.AllPositions())
}

func TestCommit_MaxCartSizeExemptChannel(t *testing.T) {
	f := newFixture()
	f.event.Settings.MaxProductsPerOrder = 2
	f.event.Settings.MaxProductsExemptChannels = []string{"boxoffice"}
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 10)
	p.SalesChannels = []string{"web", "boxoffice"}

	m := New(Config{
		Store:        f.store,
		Locker:       f.locker,
		Event:        f.event,
		CartID:       "cart-a",
		SalesChannel: "boxoffice",
	})
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 3}}))
	_, err := m.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, f.store.AllPositions(), 3)
}

func TestCommit_OneTicketPerUserClamp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Conference pass", "10.00", 10)
	p.LimitOnePerUser = true

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 3}}))
	warning, err := m.Commit(ctx)
	require.NoError(t, err, "a quantity clamp is a warning, not a failure")
	require.NotNil(t, warning)
	assert.Equal(t, CodeOneTicketPerUserCart, warning.Code)
	assert.Len(t, f.store.AllPositions(), 1)
}

func TestCommit_OneTicketPerUserExistingOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Conference pass", "10.00", 10)
	p.LimitOnePerUser = true
	f.store.OrdersByEmail["buyer@example.org"] = map[uuid.UUID]bool{p.ID: true}

	m := New(Config{
		Store:          f.store,
		Locker:         f.locker,
		Event:          f.event,
		CartID:         "cart-a",
		SalesChannel:   "web",
		InvoiceAddress: &domain.InvoiceAddress{Email: "buyer@example.org"},
	})
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1}}))
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeOneTicketPerUser))
	assert.Empty(t, f.store.AllPositions())
}

func TestCommit_BundleExpansion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pass, _ := f.product("Conference Pass", "100.00", 10)
	badge, _ := f.product("Badge", "0.00", -1)
	badge.RequireBundling = true
	pass.Bundles = []domain.Bundle{{
		BundledProductID: badge.ID,
		Count:            1,
		DesignatedPrice:  dec("0.00"),
	}}

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: pass.ID, Count: 2}}))
	_, err := m.Commit(ctx)
	require.NoError(t, err)

	positions := f.store.AllPositions()
	require.Len(t, positions, 4)

	parents := map[uuid.UUID]int{}
	for _, pos := range positions {
		if pos.ProductID == badge.ID {
			assert.True(t, pos.IsBundled)
			assert.True(t, pos.Price.IsZero())
			require.NotNil(t, pos.AddonToID)
			parents[*pos.AddonToID]++
		} else {
			assert.Equal(t, pass.ID, pos.ProductID)
			assert.True(t, pos.Price.Equal(dec("100.00")))
		}
	}
	assert.Len(t, parents, 2, "each pass carries its own badge")
	for _, n := range parents {
		assert.Equal(t, 1, n)
	}
}

func TestCommit_BundleClipsWithParent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pass, _ := f.product("Conference Pass", "100.00", 10)
	badge, _ := f.product("Badge", "0.00", 1)
	badge.RequireBundling = true
	pass.Bundles = []domain.Bundle{{
		BundledProductID: badge.ID,
		Count:            1,
		DesignatedPrice:  dec("0.00"),
	}}

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: pass.ID, Count: 2}}))
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInPart))

	positions := f.store.AllPositions()
	assert.Len(t, positions, 2, "one pass and its badge")
}

func TestCommit_PresaleWindow(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name     string
		mutate   func(e *domain.Event)
		wantCode string
	}{
		{
			name:     "not started",
			mutate:   func(e *domain.Event) { e.PresaleStart = &future },
			wantCode: CodeNotStarted,
		},
		{
			name:     "ended",
			mutate:   func(e *domain.Event) { e.PresaleEnd = &past },
			wantCode: CodeEnded,
		},
		{
			name:     "payment term over",
			mutate:   func(e *domain.Event) { e.PaymentTermLast = &past },
			wantCode: CodePaymentEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			p, _ := f.product("Ticket", "10.00", 10)
			tt.mutate(f.event)

			m := f.manager("cart-a")
			require.NoError(t, m.AddProducts(context.Background(), []ItemRequest{{ProductID: p.ID, Count: 1}}))
			_, err := m.Commit(context.Background())
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestCommit_SubEventOutOfTimeframeRemovesPositions(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name     string
		subEvent func() *domain.SubEvent
		wantCode string
	}{
		{
			name: "presale not started",
			subEvent: func() *domain.SubEvent {
				return &domain.SubEvent{PresaleStart: &future}
			},
			wantCode: CodeSubEventNotStarted,
		},
		{
			name: "presale over",
			subEvent: func() *domain.SubEvent {
				return &domain.SubEvent{PresaleEnd: &past}
			},
			wantCode: CodeSubEventEnded,
		},
		{
			name: "payment term over",
			subEvent: func() *domain.SubEvent {
				return &domain.SubEvent{PaymentTermLast: &past}
			},
			wantCode: CodeSubEventEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			p, _ := f.product("Ticket", "10.00", 10)

			se := tt.subEvent()
			se.ID = uuid.New()
			se.EventID = f.event.ID
			se.Name = "Day 2"
			se.Active = true
			f.store.SubEvents[se.ID] = se

			pos := domain.CartPosition{
				ID:          uuid.New(),
				EventID:     f.event.ID,
				CartID:      "cart-a",
				ProductID:   p.ID,
				SubEventID:  &se.ID,
				Price:       dec("10.00"),
				Expires:     time.Now().Add(time.Hour),
				IncludesTax: true,
			}
			require.NoError(t, f.store.InsertPositions(ctx, []domain.CartPosition{pos}))

			m := f.manager("cart-a")
			_, err := m.Commit(ctx)
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.wantCode), "got %v", err)
			assert.Empty(t, f.store.AllPositions())
		})
	}
}

func TestCommit_LockTimeoutPropagates(t *testing.T) {
	f := newFixture()
	f.locker = locking.NewMemoryLocker(20 * time.Millisecond)
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 5)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = f.locker.WithLock(ctx, f.event.ID, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1}}))
	_, err := m.Commit(ctx)
	require.ErrorIs(t, err, locking.ErrLockTimeout)
	assert.Empty(t, f.store.AllPositions())
}

func TestCommit_UnlimitedQuotaSkipsLock(t *testing.T) {
	f := newFixture()
	// lock is held for the whole test; an unlimited-quota commit must not
	// care
	f.locker = locking.NewMemoryLocker(10 * time.Millisecond)
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", -1)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = f.locker.WithLock(ctx, f.event.ID, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	m := f.manager("cart-a")
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1}}))
	_, err := m.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, f.store.AllPositions(), 1)
}

func TestClear_RemovesEverything(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 10)
	f.insertPosition("cart-a", p, "10.00", time.Now().Add(time.Hour))
	f.insertPosition("cart-a", p, "10.00", time.Now().Add(time.Hour))
	other := f.insertPosition("cart-b", p, "10.00", time.Now().Add(time.Hour))

	m := f.manager("cart-a")
	require.NoError(t, m.Clear(ctx))
	_, err := m.Commit(ctx)
	require.NoError(t, err)

	positions := f.store.AllPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, other.ID, positions[0].ID)
}

func TestCommit_RecordsMetrics(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Ticket", "10.00", 3)

	metrics := telemetry.NewCartMetrics(prometheus.NewRegistry(), "sigyn_test")
	m := New(Config{
		Store:        f.store,
		Locker:       f.locker,
		Metrics:      metrics,
		Event:        f.event,
		CartID:       "cart-a",
		SalesChannel: "web",
	})
	require.NoError(t, m.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 5}}))
	_, err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInPart))

	slug := f.event.Slug
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.PositionsCreated.WithLabelValues(slug)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PartialFulfillments.WithLabelValues(slug)))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.CommitDuration))
}

func TestCommit_SeatRace(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, _ := f.product("Seated ticket", "30.00", 10)
	p.RequiresSeat = true

	seat := &domain.Seat{
		ID:        uuid.New(),
		EventID:   f.event.ID,
		GUID:      "seat-1",
		Name:      "A1",
		ProductID: p.ID,
	}
	f.store.Seats[seat.ID] = seat

	ma := f.manager("cart-a")
	require.NoError(t, ma.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1, SeatGUID: "seat-1"}}))
	_, err := ma.Commit(ctx)
	require.NoError(t, err)

	mb := f.manager("cart-b")
	require.NoError(t, mb.AddProducts(ctx, []ItemRequest{{ProductID: p.ID, Count: 1, SeatGUID: "seat-1"}}))
	_, err = mb.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeSeatUnavailable), "got %v", err)

	positions := f.store.AllPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "cart-a", positions[0].CartID)
}
