// Package cart implements the reservation engine: planning methods
// accumulate typed operations against a per-session cart, and Commit
// executes them transactionally with a final availability check, under a
// per-event lock whenever limited resources are contended.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/locking"
	"github.com/dukerupert/sigyn/internal/pricing"
	"github.com/dukerupert/sigyn/internal/telemetry"
)

// Manager orchestrates one request's worth of cart mutations. It is not
// safe for concurrent use; build one per request, call planning methods,
// then Commit once.
type Manager struct {
	store   Store
	locker  locking.Locker
	logger  *slog.Logger
	metrics *telemetry.CartMetrics

	event   *domain.Event
	cartID  string
	channel string
	invoice *domain.InvoiceAddress

	validators []AddonValidator
	now        func() time.Time

	ops []operation

	// Running demand per quota and voucher, maintained while planning so
	// the lock decision and the commit-time availability fetch know which
	// resources are contended.
	quotaDiff   map[uuid.UUID]int
	voucherDiff map[uuid.UUID]int
	quotaCache  map[uuid.UUID]*domain.Quota

	taxRules  map[uuid.UUID]*pricing.TaxRule
	seatsSeen map[uuid.UUID]bool

	positions       []domain.CartPosition
	positionsLoaded bool
}

// Config wires a Manager. Store, Locker and Event are required; Now
// defaults to time.Now and Logger to slog.Default.
type Config struct {
	Store  Store
	Locker locking.Locker
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *telemetry.CartMetrics

	Event          *domain.Event
	CartID         string
	SalesChannel   string
	InvoiceAddress *domain.InvoiceAddress

	AddonValidators []AddonValidator

	Now func() time.Time
}

func New(cfg Config) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	channel := cfg.SalesChannel
	if channel == "" {
		channel = "web"
	}
	return &Manager{
		store:       cfg.Store,
		locker:      cfg.Locker,
		logger:      logger,
		metrics:     cfg.Metrics,
		event:       cfg.Event,
		cartID:      cfg.CartID,
		channel:     channel,
		invoice:     cfg.InvoiceAddress,
		validators:  cfg.AddonValidators,
		now:         now,
		quotaDiff:   make(map[uuid.UUID]int),
		voucherDiff: make(map[uuid.UUID]int),
		quotaCache:  make(map[uuid.UUID]*domain.Quota),
		taxRules:    make(map[uuid.UUID]*pricing.TaxRule),
		seatsSeen:   make(map[uuid.UUID]bool),
	}
}

// ItemRequest is one requested line in an AddProducts call.
type ItemRequest struct {
	ProductID   uuid.UUID
	VariationID *uuid.UUID
	SubEventID  *uuid.UUID
	Count       int

	// SeatGUID selects a specific seat; the seat determines the product.
	SeatGUID string

	VoucherCode string

	// CustomPrice is a buyer-entered price for free-price products.
	CustomPrice *decimal.Decimal
}

// AddProducts resolves the requested lines against the catalog, validates
// every business constraint and queues one AddOperation per line. Bundled
// sub-products are expanded recursively into the operation.
func (m *Manager) AddProducts(ctx context.Context, items []ItemRequest) error {
	if len(items) == 0 {
		return newError(CodeEmptyCart)
	}
	now := m.now()

	// Seats determine their product, so resolve them before the catalog
	// batch fetch.
	seats := make([]*domain.Seat, len(items))
	for i := range items {
		if items[i].SeatGUID == "" {
			continue
		}
		seat, err := m.store.SeatByGUID(ctx, m.event.ID, items[i].SubEventID, items[i].SeatGUID)
		if err != nil {
			return domain.Internal(err, "cart.add", "failed to look up seat")
		}
		if seat == nil {
			return newErrorf(CodeSeatInvalid, map[string]any{"seat": items[i].SeatGUID})
		}
		items[i].ProductID = seat.ProductID
		seats[i] = seat
	}

	products, variations, subEvents, err := m.fetchCatalog(ctx, items)
	if err != nil {
		return err
	}

	// Expand bundle definitions in a second batch fetch; bundled product
	// IDs are only known once the parents are loaded.
	bundledIDs := map[uuid.UUID]bool{}
	for _, p := range products {
		for _, b := range p.Bundles {
			if _, ok := products[b.BundledProductID]; !ok {
				bundledIDs[b.BundledProductID] = true
			}
		}
	}
	if len(bundledIDs) > 0 {
		ids := make([]uuid.UUID, 0, len(bundledIDs))
		for id := range bundledIDs {
			ids = append(ids, id)
		}
		more, err := m.store.ProductsByID(ctx, m.event.ID, ids)
		if err != nil {
			return domain.Internal(err, "cart.add", "failed to load bundled products")
		}
		for id, p := range more {
			products[id] = p
		}
	}

	// voucherUses tracks how often each voucher appears within this batch
	// so its budget cannot be exceeded by a single request.
	voucherUses := map[uuid.UUID]int{}

	// The batch is all-or-nothing: everything is staged locally and merged
	// into the manager only when every line validated.
	var stagedOps []operation
	stagedQuota := map[uuid.UUID]int{}
	stagedVoucher := map[uuid.UUID]int{}
	stagedSeats := map[uuid.UUID]bool{}
	track := func(quotas []*domain.Quota, count int) {
		for _, q := range quotas {
			stagedQuota[q.ID] += count
			m.quotaCache[q.ID] = q
		}
	}

	for i, item := range items {
		if item.Count <= 0 {
			continue
		}

		var subEvent *domain.SubEvent
		if m.event.HasSubEvents {
			if item.SubEventID == nil {
				return newError(CodeSubEventRequired)
			}
			subEvent = subEvents[*item.SubEventID]
			if subEvent == nil {
				return newError(CodeSubEventRequired)
			}
		}

		seat := seats[i]
		if seat != nil {
			if item.Count != 1 {
				return newErrorf(CodeSeatMultiple, map[string]any{"seat": seat.Name})
			}
			if m.seatsSeen[seat.ID] || stagedSeats[seat.ID] {
				return newErrorf(CodeSeatMultiple, map[string]any{"seat": seat.Name})
			}
			stagedSeats[seat.ID] = true
		}

		product := products[item.ProductID]
		if product == nil {
			return newError(CodeNotForSale)
		}
		var variation *domain.ProductVariation
		if item.VariationID != nil {
			variation = variations[*item.VariationID]
		}

		var voucher *domain.Voucher
		if item.VoucherCode != "" {
			voucher, err = m.resolveVoucher(ctx, item.VoucherCode, now)
			if err != nil {
				return err
			}
			remaining := voucher.MaxUsages - voucher.Redeemed - voucherUses[voucher.ID]
			if remaining <= 0 {
				return newError(CodeVoucherRedeemed)
			}
			if remaining < item.Count {
				return newErrorf(CodeVoucherRedeemedPartial, map[string]any{"number": remaining})
			}
			voucherUses[voucher.ID] += item.Count
		}

		if err := m.checkProductConstraints(product, variation, subEvent, seat, voucher, now); err != nil {
			return err
		}

		quotas, err := m.quotasFor(ctx, product, variation, item.SubEventID, voucher)
		if err != nil {
			return err
		}
		if quotas == nil && !voucherBypassesQuota(voucher) {
			return newErrorf(CodeUnavailable, map[string]any{"product": product.Name})
		}

		op, err := m.buildAddOperation(ctx, product, variation, subEvent, seat, voucher, item, products, now)
		if err != nil {
			return err
		}
		op.Quotas = quotas

		track(quotas, item.Count)
		for _, b := range op.Bundled {
			track(b.Quotas, item.Count*b.Count)
		}
		if voucher != nil {
			stagedVoucher[voucher.ID] += item.Count
		}
		stagedOps = append(stagedOps, op)
	}

	for id, d := range stagedQuota {
		m.quotaDiff[id] += d
	}
	for id, d := range stagedVoucher {
		m.voucherDiff[id] += d
	}
	for id := range stagedSeats {
		m.seatsSeen[id] = true
	}
	m.ops = append(m.ops, stagedOps...)
	return nil
}

// buildAddOperation prices one requested line and expands its bundles.
// Bundled child operations carry a per-parent count; the coordinator
// multiplies by the fulfilled parent count at commit time.
func (m *Manager) buildAddOperation(
	ctx context.Context,
	product *domain.Product,
	variation *domain.ProductVariation,
	subEvent *domain.SubEvent,
	seat *domain.Seat,
	voucher *domain.Voucher,
	item ItemRequest,
	products map[uuid.UUID]*domain.Product,
	now time.Time,
) (*addOperation, error) {
	rule, err := m.taxRule(ctx, product)
	if err != nil {
		return nil, err
	}

	var bundled []*addOperation
	bundledSum := decimal.Zero
	for _, b := range product.Bundles {
		bp := products[b.BundledProductID]
		if bp == nil {
			return nil, newErrorf(CodeUnavailable, map[string]any{"product": product.Name})
		}
		var bv *domain.ProductVariation
		if b.BundledVariationID != nil {
			vs, err := m.store.VariationsByID(ctx, []uuid.UUID{*b.BundledVariationID})
			if err != nil {
				return nil, domain.Internal(err, "cart.add", "failed to load bundled variation")
			}
			bv = vs[*b.BundledVariationID]
		}
		bQuotas, err := m.quotasFor(ctx, bp, bv, item.SubEventID, nil)
		if err != nil {
			return nil, err
		}
		if bQuotas == nil {
			return nil, newErrorf(CodeUnavailable, map[string]any{"product": bp.Name})
		}
		bRule, err := m.taxRule(ctx, bp)
		if err != nil {
			return nil, err
		}
		dp := b.DesignatedPrice
		bPrice, err := pricing.Resolve(pricing.ResolveParams{
			Product:          bp,
			Variation:        bv,
			SubEvent:         subEvent,
			Rule:             bRule,
			CustomPrice:      &dp,
			ForceCustomPrice: true,
			InvoiceAddress:   m.invoice,
		})
		if err != nil {
			return nil, mapPricingErr(err)
		}
		bundled = append(bundled, &addOperation{
			Count:       b.Count,
			Product:     bp,
			Variation:   bv,
			Price:       bPrice,
			Quotas:      bQuotas,
			SubEvent:    subEvent,
			IsBundled:   true,
			IncludesTax: includesTax(bRule, m.invoice),
		})
		bundledSum = bundledSum.Add(b.DesignatedPrice.Mul(decimal.NewFromInt(int64(b.Count))))
	}

	price, err := pricing.Resolve(pricing.ResolveParams{
		Product:          product,
		Variation:        variation,
		Voucher:          voucher,
		SubEvent:         subEvent,
		Rule:             rule,
		CustomPrice:      item.CustomPrice,
		CustomPriceIsNet: m.event.Settings.DisplayNetPrices,
		BundledSum:       bundledSum,
		InvoiceAddress:   m.invoice,
	})
	if err != nil {
		return nil, mapPricingErr(err)
	}

	var priceBeforeVoucher *decimal.Decimal
	if voucher != nil {
		undiscounted, err := pricing.Resolve(pricing.ResolveParams{
			Product:          product,
			Variation:        variation,
			SubEvent:         subEvent,
			Rule:             rule,
			CustomPrice:      item.CustomPrice,
			CustomPriceIsNet: m.event.Settings.DisplayNetPrices,
			BundledSum:       bundledSum,
			InvoiceAddress:   m.invoice,
		})
		if err != nil {
			return nil, mapPricingErr(err)
		}
		priceBeforeVoucher = &undiscounted.Gross
	}

	return &addOperation{
		Count:              item.Count,
		Product:            product,
		Variation:          variation,
		Price:              price,
		Voucher:            voucher,
		SubEvent:           subEvent,
		Seat:               seat,
		IncludesTax:        includesTax(rule, m.invoice),
		Bundled:            bundled,
		PriceBeforeVoucher: priceBeforeVoucher,
	}, nil
}

// checkProductConstraints short-circuits on the first violated guard.
func (m *Manager) checkProductConstraints(
	product *domain.Product,
	variation *domain.ProductVariation,
	subEvent *domain.SubEvent,
	seat *domain.Seat,
	voucher *domain.Voucher,
	now time.Time,
) error {
	if product.Category != nil && product.Category.IsAddon {
		return newError(CodeAddonOnly)
	}
	if product.RequireBundling {
		return newError(CodeBundledOnly)
	}
	if product.HideWithoutVoucher && (voucher == nil || !voucher.ShowHiddenProducts) {
		return newError(CodeVoucherRequired)
	}
	if product.RequireVoucher && voucher == nil {
		return newError(CodeVoucherRequired)
	}
	if !product.IsAvailable(now) || !product.SoldOnChannel(m.channel) {
		return newError(CodeNotForSale)
	}
	if product.HasVariations {
		if variation == nil {
			return newError(CodeNotForSale)
		}
		if variation.ProductID != product.ID || !variation.Active {
			return newError(CodeNotForSale)
		}
	} else if variation != nil {
		return newError(CodeNotForSale)
	}

	if voucher != nil {
		if !voucher.AppliesTo(product, variation) {
			return newError(CodeVoucherInvalidProduct)
		}
		if voucher.SeatID != nil && (seat == nil || *voucher.SeatID != seat.ID) {
			return newError(CodeVoucherInvalidSeat)
		}
		if voucher.SubEventID != nil && (subEvent == nil || *voucher.SubEventID != subEvent.ID) {
			return newError(CodeVoucherInvalidSubEvent)
		}
	}

	if subEvent != nil {
		if !subEvent.Active {
			return newError(CodeInactiveSubEvent)
		}
		if subEvent.PresaleStart != nil && now.Before(*subEvent.PresaleStart) {
			return newError(CodeNotStarted)
		}
		if subEvent.PresaleHasEnded(now) {
			return newError(CodeEnded)
		}
		if subEvent.PaymentTermLast != nil && now.After(*subEvent.PaymentTermLast) {
			return newError(CodePaymentEnded)
		}
		if ov, ok := subEvent.ProductOverrides[product.ID]; ok && ov.Disabled {
			return newError(CodeNotForSale)
		}
		if variation != nil {
			if ov, ok := subEvent.VariationOverrides[variation.ID]; ok && ov.Disabled {
				return newError(CodeNotForSale)
			}
		}
	}

	if product.RequiresSeat {
		if seat == nil {
			return newErrorf(CodeSeatRequired, map[string]any{"product": product.Name})
		}
	} else if seat != nil {
		return newErrorf(CodeSeatInvalid, map[string]any{"seat": seat.Name})
	}
	if seat != nil {
		if seat.ProductID != product.ID {
			return newErrorf(CodeSeatInvalid, map[string]any{"seat": seat.Name})
		}
		if seat.Blocked && !m.event.AllowsBlockedSeats(m.channel) {
			return newErrorf(CodeSeatForbidden, map[string]any{"seat": seat.Name})
		}
	}
	return nil
}

// fetchCatalog batch-loads all products, variations and sub-events the
// request references, so planning issues a fixed number of queries.
func (m *Manager) fetchCatalog(ctx context.Context, items []ItemRequest) (
	map[uuid.UUID]*domain.Product,
	map[uuid.UUID]*domain.ProductVariation,
	map[uuid.UUID]*domain.SubEvent,
	error,
) {
	var productIDs, variationIDs, subEventIDs []uuid.UUID
	for _, it := range items {
		productIDs = append(productIDs, it.ProductID)
		if it.VariationID != nil {
			variationIDs = append(variationIDs, *it.VariationID)
		}
		if it.SubEventID != nil {
			subEventIDs = append(subEventIDs, *it.SubEventID)
		}
	}
	products, err := m.store.ProductsByID(ctx, m.event.ID, productIDs)
	if err != nil {
		return nil, nil, nil, domain.Internal(err, "cart.add", "failed to load products")
	}
	variations := map[uuid.UUID]*domain.ProductVariation{}
	if len(variationIDs) > 0 {
		variations, err = m.store.VariationsByID(ctx, variationIDs)
		if err != nil {
			return nil, nil, nil, domain.Internal(err, "cart.add", "failed to load variations")
		}
	}
	subEvents := map[uuid.UUID]*domain.SubEvent{}
	if len(subEventIDs) > 0 {
		subEvents, err = m.store.SubEventsByID(ctx, m.event.ID, subEventIDs)
		if err != nil {
			return nil, nil, nil, domain.Internal(err, "cart.add", "failed to load sub-events")
		}
	}
	return products, variations, subEvents, nil
}

// quotasFor loads the quotas covering an item. It returns nil (without an
// error) when none exist, and also when the voucher makes quota checks
// irrelevant so no demand is tracked for the operation.
func (m *Manager) quotasFor(ctx context.Context, product *domain.Product, variation *domain.ProductVariation, subEventID *uuid.UUID, voucher *domain.Voucher) ([]*domain.Quota, error) {
	if voucherBypassesQuota(voucher) {
		return nil, nil
	}
	var variationID *uuid.UUID
	if variation != nil {
		variationID = &variation.ID
	}
	quotas, err := m.store.QuotasFor(ctx, product.ID, variationID, subEventID)
	if err != nil {
		return nil, domain.Internal(err, "cart.quotas", "failed to load quotas")
	}
	if len(quotas) == 0 {
		return nil, nil
	}
	return quotas, nil
}

func voucherBypassesQuota(v *domain.Voucher) bool {
	return v != nil && (v.AllowIgnoreQuota || v.BlockQuota)
}

func (m *Manager) trackQuotas(quotas []*domain.Quota, count int) {
	for _, q := range quotas {
		m.quotaDiff[q.ID] += count
		m.quotaCache[q.ID] = q
	}
}

func (m *Manager) taxRule(ctx context.Context, product *domain.Product) (*pricing.TaxRule, error) {
	if product.TaxRuleID == nil {
		return nil, nil
	}
	if r, ok := m.taxRules[*product.TaxRuleID]; ok {
		return r, nil
	}
	r, err := m.store.TaxRuleByID(ctx, product.TaxRuleID)
	if err != nil {
		return nil, domain.Internal(err, "cart.tax", "failed to load tax rule")
	}
	if r != nil {
		m.taxRules[r.ID] = r
	}
	return r, nil
}

// currentPositions loads and caches this cart's positions for the lifetime
// of the request.
func (m *Manager) currentPositions(ctx context.Context) ([]domain.CartPosition, error) {
	if m.positionsLoaded {
		return m.positions, nil
	}
	positions, err := m.store.Positions(ctx, m.event.ID, m.cartID)
	if err != nil {
		return nil, domain.Internal(err, "cart.positions", "failed to load cart positions")
	}
	m.positions = positions
	m.positionsLoaded = true
	return positions, nil
}

func includesTax(rule *pricing.TaxRule, addr *domain.InvoiceAddress) bool {
	if rule == nil {
		return true
	}
	return !(rule.EffectiveRate(addr).IsZero() && !rule.Rate.IsZero())
}

func mapPricingErr(err error) error {
	switch {
	case errors.Is(err, pricing.ErrPriceTooHigh):
		return newError(CodePriceTooHigh)
	case errors.Is(err, pricing.ErrSaleNotAllowed):
		return newError(CodeCountryBlocked)
	default:
		return domain.Internal(err, "cart.price", "failed to resolve price")
	}
}
