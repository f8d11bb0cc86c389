package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/locking"
	"github.com/dukerupert/sigyn/internal/quota"
)

// Commit executes the accumulated operation log. It re-validates the
// timing and cart-size guards with fresh data, decides whether the batch
// needs the cross-process event lock, and runs everything inside one
// database transaction with a final availability check.
//
// Three kinds of outcome exist. A hard error rolls the transaction back
// and nothing is persisted. A soft error (partial fulfillment, a removed
// unavailable line) is returned as an *Error after the transaction has
// committed, so the fulfilled part of the batch survives. A Warning never
// blocks anything and is returned alongside either outcome.
func (m *Manager) Commit(ctx context.Context) (warning *Warning, err error) {
	now := m.now()
	if m.metrics != nil {
		started := time.Now()
		defer func() {
			m.metrics.CommitDuration.WithLabelValues(m.event.Slug).Observe(time.Since(started).Seconds())
		}()
	}

	if err := m.checkPresaleDates(now); err != nil {
		return nil, err
	}

	var softErr *Error
	timeframeErr, err := m.deleteOutOfTimeframe(ctx)
	if err != nil {
		return nil, err
	}
	softErr = firstErr(softErr, timeframeErr)

	if err := m.ExtendExpiredPositions(ctx); err != nil {
		return nil, err
	}

	if err := m.checkMaxCartSize(ctx); err != nil {
		return nil, err
	}

	minMaxErr, err := m.checkMinMaxPerProduct(ctx)
	if err != nil {
		return nil, err
	}
	softErr = firstErr(softErr, minMaxErr)

	warning, err = m.checkOneTicketPerUser(ctx)
	if err != nil {
		return nil, err
	}

	if len(m.ops) == 0 {
		if softErr != nil {
			return warning, softErr
		}
		return warning, nil
	}

	expiry := now.Add(time.Duration(m.event.Settings.ReservationTime) * time.Minute)

	run := func(ctx context.Context) error {
		return m.store.InTx(ctx, func(ctx context.Context, tx Store) error {
			performErr, hardErr := m.performOperations(ctx, tx, expiry, now)
			if hardErr != nil {
				return hardErr
			}
			softErr = firstErr(softErr, performErr)
			return nil
		})
	}

	if m.requireLocking() {
		err = m.locker.WithLock(ctx, m.event.ID, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		if m.metrics != nil && errors.Is(err, locking.ErrLockTimeout) {
			m.metrics.LockTimeouts.WithLabelValues(m.event.Slug).Inc()
		}
		return nil, err
	}

	m.ops = nil
	m.positionsLoaded = false
	if softErr != nil {
		return warning, softErr
	}
	return warning, nil
}

// requireLocking reports whether this batch contends for a limited shared
// resource. Vouchers and seats are always limited; quotas only when sized.
func (m *Manager) requireLocking() bool {
	for _, d := range m.voucherDiff {
		if d > 0 {
			return true
		}
	}
	for id, d := range m.quotaDiff {
		if d > 0 && !m.quotaCache[id].Unlimited() {
			return true
		}
	}
	for _, op := range m.ops {
		switch o := op.(type) {
		case *addOperation:
			if o.Seat != nil {
				return true
			}
		case extendOperation:
			if o.Seat != nil {
				return true
			}
		}
	}
	return false
}

func (m *Manager) checkPresaleDates(now time.Time) error {
	if m.event.PresaleStart != nil && now.Before(*m.event.PresaleStart) {
		return newError(CodeNotStarted)
	}
	if m.event.PresaleHasEnded(now) {
		return newError(CodeEnded)
	}
	if m.event.PaymentTermLast != nil && now.After(*m.event.PaymentTermLast) {
		return newError(CodePaymentEnded)
	}
	return nil
}

// checkMaxCartSize bounds the number of top-level units in the cart after
// this batch: existing lines minus queued removals plus queued additions.
func (m *Manager) checkMaxCartSize(ctx context.Context) error {
	limit := m.event.Settings.MaxProductsPerOrder
	if limit <= 0 {
		return nil
	}
	for _, c := range m.event.Settings.MaxProductsExemptChannels {
		if c == m.channel {
			return nil
		}
	}
	positions, err := m.currentPositions(ctx)
	if err != nil {
		return err
	}

	removed := map[uuid.UUID]bool{}
	for _, op := range m.ops {
		if r, ok := op.(removeOperation); ok {
			removed[r.Position.ID] = true
		}
	}
	count := 0
	for _, pos := range positions {
		if pos.AddonToID == nil && !removed[pos.ID] {
			count++
		}
	}
	for _, op := range m.ops {
		if a, ok := op.(*addOperation); ok && a.AddonTo == nil && !a.IsBundled {
			count += a.Count
		}
	}
	if count > limit {
		return newErrorf(CodeMaxProducts, map[string]any{"max": limit})
	}
	return nil
}

// checkMinMaxPerProduct enforces per-product order bounds over the cart's
// final state. Exceeding the maximum is a hard failure. Falling below the
// minimum triggers a compensating removal of the product's remaining lines
// when the shortfall comes from existing positions; when the user is
// actively adding too few, it is a hard failure instead.
func (m *Manager) checkMinMaxPerProduct(ctx context.Context) (*Error, error) {
	positions, err := m.currentPositions(ctx)
	if err != nil {
		return nil, err
	}

	removed := map[uuid.UUID]bool{}
	adding := map[uuid.UUID]int{}
	products := map[uuid.UUID]*domain.Product{}
	for _, op := range m.ops {
		switch o := op.(type) {
		case removeOperation:
			removed[o.Position.ID] = true
		case *addOperation:
			if o.AddonTo == nil && !o.IsBundled {
				adding[o.Product.ID] += o.Count
				products[o.Product.ID] = o.Product
			}
		}
	}

	existing := map[uuid.UUID][]domain.CartPosition{}
	for _, pos := range positions {
		if pos.AddonToID == nil && !removed[pos.ID] {
			existing[pos.ProductID] = append(existing[pos.ProductID], pos)
		}
	}

	// Existing lines may reference products no planning call has loaded yet.
	var missing []uuid.UUID
	for pid := range existing {
		if _, ok := products[pid]; !ok {
			missing = append(missing, pid)
		}
	}
	if len(missing) > 0 {
		loaded, err := m.store.ProductsByID(ctx, m.event.ID, missing)
		if err != nil {
			return nil, domain.Internal(err, "cart.commit", "failed to load products")
		}
		for id, p := range loaded {
			products[id] = p
		}
	}

	var softErr *Error
	for pid, product := range products {
		if product == nil {
			continue
		}
		total := len(existing[pid]) + adding[pid]
		if total == 0 {
			continue
		}
		if product.MaxPerOrder > 0 && total > product.MaxPerOrder {
			return nil, newErrorf(CodeMaxPerProduct, map[string]any{
				"max":     product.MaxPerOrder,
				"product": product.Name,
			})
		}
		if product.MinPerOrder > 0 && total < product.MinPerOrder {
			if adding[pid] > 0 {
				return nil, newErrorf(CodeMinPerProduct, map[string]any{
					"min":     product.MinPerOrder,
					"product": product.Name,
				})
			}
			for _, pos := range existing[pid] {
				m.ops = append(m.ops, removeOperation{Position: pos})
			}
			softErr = firstErr(softErr, newErrorf(CodeMinPerProductRemoved, map[string]any{
				"min":     product.MinPerOrder,
				"product": product.Name,
			}))
		}
	}
	return softErr, nil
}

// checkOneTicketPerUser clamps flagged products to one unit per cart with a
// non-fatal warning. A buyer whose email already holds a paid or pending
// order containing the product is rejected outright.
func (m *Manager) checkOneTicketPerUser(ctx context.Context) (*Warning, error) {
	positions, err := m.currentPositions(ctx)
	if err != nil {
		return nil, err
	}

	removed := map[uuid.UUID]bool{}
	for _, op := range m.ops {
		if r, ok := op.(removeOperation); ok {
			removed[r.Position.ID] = true
		}
	}

	var warning *Warning
	for _, op := range m.ops {
		a, ok := op.(*addOperation)
		if !ok || !a.Product.LimitOnePerUser || a.IsBundled {
			continue
		}

		if m.invoice != nil && m.invoice.Email != "" {
			has, err := m.store.HasOrderWithProduct(ctx, m.event.ID, m.invoice.Email, a.Product.ID)
			if err != nil {
				return nil, domain.Internal(err, "cart.commit", "failed to check existing orders")
			}
			if has {
				return nil, newErrorf(CodeOneTicketPerUser, map[string]any{"product": a.Product.Name})
			}
		}

		held := 0
		for _, pos := range positions {
			if pos.ProductID == a.Product.ID && !pos.IsBundled && !removed[pos.ID] {
				held++
			}
		}
		allowed := 1 - held
		if allowed < 0 {
			allowed = 0
		}
		if a.Count > allowed {
			a.Count = allowed
			if warning == nil {
				warning = &Warning{
					Code: CodeOneTicketPerUserCart,
					Args: map[string]any{"product": a.Product.Name},
				}
			}
		}
	}

	// drop adds clamped to zero
	kept := m.ops[:0]
	for _, op := range m.ops {
		if a, ok := op.(*addOperation); ok && a.Count == 0 {
			continue
		}
		kept = append(kept, op)
	}
	m.ops = kept
	return warning, nil
}

// performOperations runs inside the commit transaction. It re-fetches
// quota and voucher availability with fresh counters, walks the batch in
// priority order, clips each fulfillment to what is actually left and
// materializes or deletes position rows accordingly.
func (m *Manager) performOperations(ctx context.Context, tx Store, expiry, now time.Time) (*Error, error) {
	if err := tx.ExtendExpiry(ctx, m.event.ID, m.cartID, expiry, now); err != nil {
		return nil, domain.Internal(err, "cart.commit", "failed to extend cart expiry")
	}

	sorted := sortOperations(m.ops)

	quotasOK, err := m.freshQuotaAvailability(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	vouchersOK, dependsOnCart, err := m.freshVoucherAvailability(ctx, tx, sorted, now)
	if err != nil {
		return nil, err
	}

	// Capacity still held by positions this batch removes is freed before
	// anything else runs, so an Add in the same batch can claim it.
	if err := m.creditRemovals(ctx, tx, sorted, quotasOK, vouchersOK, now); err != nil {
		return nil, err
	}

	var softErr *Error
	var newPositions []domain.CartPosition

	for idx, op := range sorted {
		switch o := op.(type) {
		case removeOperation:
			if err := tx.DeletePositions(ctx, []uuid.UUID{o.Position.ID}); err != nil {
				return nil, domain.Internal(err, "cart.commit", "failed to delete position")
			}
			switch {
			case o.Reason == "":
				m.countRemoved("user")
			case o.Reason == CodeUnavailable:
				m.countRemoved("unavailable")
			default:
				m.countRemoved("policy")
			}
			if o.Reason != "" {
				softErr = firstErr(softErr, newErrorf(o.Reason, o.ReasonArgs))
			}

		case voucherOperation:
			if vouchersOK[o.Voucher.ID] <= 0 {
				// Only the first operation of the batch escalates; later
				// voucher operations in a multi-item cart fail silently, the
				// voucher simply ran out while being applied.
				if idx == 0 {
					return nil, m.voucherExhaustedError(o.Voucher, dependsOnCart)
				}
				continue
			}
			pos := o.Position
			before := pos.Price
			pos.PriceBeforeVoucher = &before
			pos.Price = o.Price.Gross
			vID := o.Voucher.ID
			pos.VoucherID = &vID
			if err := tx.UpdatePosition(ctx, pos); err != nil {
				if errors.Is(err, domain.ErrPositionGone) {
					continue
				}
				return nil, domain.Internal(err, "cart.commit", "failed to apply voucher to position")
			}
			vouchersOK[o.Voucher.ID]--
			if m.metrics != nil {
				m.metrics.VoucherRedemptions.WithLabelValues(m.event.Slug).Inc()
			}

		case extendOperation:
			fulfilled, voucherBound, clipErr, err := m.clipAndConsume(ctx, tx, clipRequest{
				count:   1,
				quotas:  o.Quotas,
				voucher: o.Voucher,
				seat:    o.Seat,
				product: o.Product,
			}, quotasOK, vouchersOK, now)
			if err != nil {
				return nil, err
			}
			softErr = firstErr(softErr, clipErr)
			if fulfilled == 0 {
				if err := tx.DeletePositions(ctx, []uuid.UUID{o.Position.ID}); err != nil {
					return nil, domain.Internal(err, "cart.commit", "failed to delete unavailable position")
				}
				m.countRemoved("unavailable")
				if voucherBound {
					softErr = firstErr(softErr, m.voucherExhaustedError(o.Voucher, dependsOnCart))
				} else {
					softErr = firstErr(softErr, newErrorf(CodeUnavailable, map[string]any{
						"product": o.Product.Name,
					}))
				}
				continue
			}
			pos := o.Position
			pos.Expires = expiry
			pos.Price = o.Price.Gross
			pos.PriceBeforeVoucher = o.PriceBeforeVoucher
			if err := tx.UpdatePosition(ctx, pos); err != nil {
				// The row may have been deleted by a cleanup job between
				// planning and commit; losing that race is harmless.
				if errors.Is(err, domain.ErrPositionGone) {
					continue
				}
				return nil, domain.Internal(err, "cart.commit", "failed to extend position")
			}

		case *addOperation:
			fulfilled, voucherBound, clipErr, err := m.clipAndConsume(ctx, tx, clipRequest{
				count:   o.Count,
				quotas:  o.Quotas,
				voucher: o.Voucher,
				seat:    o.Seat,
				product: o.Product,
				bundled: o.Bundled,
			}, quotasOK, vouchersOK, now)
			if err != nil {
				return nil, err
			}
			softErr = firstErr(softErr, clipErr)

			if fulfilled < o.Count {
				if m.metrics != nil {
					m.metrics.PartialFulfillments.WithLabelValues(m.event.Slug).Inc()
				}
				switch {
				case voucherBound && fulfilled > 0:
					softErr = firstErr(softErr, newErrorf(CodeVoucherRedeemedPartial, map[string]any{
						"number": fulfilled,
					}))
				case voucherBound:
					softErr = firstErr(softErr, m.voucherExhaustedError(o.Voucher, dependsOnCart))
				case fulfilled == 0:
					softErr = firstErr(softErr, newErrorf(CodeUnavailable, map[string]any{
						"product": o.Product.Name,
					}))
				default:
					softErr = firstErr(softErr, newErrorf(CodeInPart, map[string]any{
						"product": o.Product.Name,
						"count":   fulfilled,
					}))
				}
			}
			if m.metrics != nil && o.Voucher != nil && fulfilled > 0 {
				m.metrics.VoucherRedemptions.WithLabelValues(m.event.Slug).Add(float64(fulfilled))
			}
			for i := 0; i < fulfilled; i++ {
				parent := m.materialize(o, expiry)
				newPositions = append(newPositions, parent)
				for _, b := range o.Bundled {
					for j := 0; j < b.Count; j++ {
						child := m.materialize(b, expiry)
						pid := parent.ID
						child.AddonToID = &pid
						child.IsBundled = true
						newPositions = append(newPositions, child)
					}
				}
			}
		}
	}

	if len(newPositions) > 0 {
		if err := tx.InsertPositions(ctx, newPositions); err != nil {
			return nil, domain.Internal(err, "cart.commit", "failed to insert positions")
		}
		if m.metrics != nil {
			m.metrics.PositionsCreated.WithLabelValues(m.event.Slug).Add(float64(len(newPositions)))
		}
	}
	return softErr, nil
}

func (m *Manager) countRemoved(reason string) {
	if m.metrics != nil {
		m.metrics.PositionsRemoved.WithLabelValues(m.event.Slug, reason).Inc()
	}
}

// creditRemovals gives back the capacity still held by unexpired positions
// the batch is about to delete. Expired positions were never part of the
// fresh counts, and positions whose voucher bypasses quota never consumed
// any.
func (m *Manager) creditRemovals(ctx context.Context, tx Store, sorted []operation, quotasOK map[uuid.UUID]int, vouchersOK map[uuid.UUID]int, now time.Time) error {
	for _, op := range sorted {
		r, ok := op.(removeOperation)
		if !ok || !r.Position.Expires.After(now) {
			continue
		}
		bypass := false
		if r.Position.VoucherID != nil {
			v, err := tx.VoucherByID(ctx, *r.Position.VoucherID)
			if err != nil {
				return domain.Internal(err, "cart.commit", "failed to load voucher of removed position")
			}
			bypass = voucherBypassesQuota(v)
			if _, contended := vouchersOK[*r.Position.VoucherID]; contended {
				vouchersOK[*r.Position.VoucherID]++
			}
		}
		if bypass {
			continue
		}
		quotas, err := tx.QuotasFor(ctx, r.Position.ProductID, r.Position.VariationID, r.Position.SubEventID)
		if err != nil {
			return domain.Internal(err, "cart.commit", "failed to load quotas of removed position")
		}
		for _, q := range quotas {
			if _, contended := quotasOK[q.ID]; contended {
				quotasOK[q.ID]++
			}
		}
	}
	return nil
}

type clipRequest struct {
	count   int
	quotas  []*domain.Quota
	voucher *domain.Voucher
	seat    *domain.Seat
	product *domain.Product
	bundled []*addOperation
}

// clipAndConsume computes how much of one operation can be fulfilled given
// the remaining counters and decrements them by the consumed amount.
// Bundled sub-operations constrain and consume together with their parent.
// The returned bool reports that the voucher budget, not a quota, was the
// binding constraint, so callers can report the right error flavor.
func (m *Manager) clipAndConsume(
	ctx context.Context,
	tx Store,
	req clipRequest,
	quotasOK map[uuid.UUID]int,
	vouchersOK map[uuid.UUID]int,
	now time.Time,
) (int, bool, *Error, error) {
	available := req.count
	for _, q := range req.quotas {
		if limit, ok := quotasOK[q.ID]; ok && limit < available {
			available = limit
		}
	}
	for _, b := range req.bundled {
		if b.Count == 0 {
			continue
		}
		for _, q := range b.Quotas {
			if limit, ok := quotasOK[q.ID]; ok {
				if parents := limit / b.Count; parents < available {
					available = parents
				}
			}
		}
	}
	if available < 0 {
		available = 0
	}

	voucherBound := false
	if req.voucher != nil {
		budget := vouchersOK[req.voucher.ID]
		if budget < req.count && budget <= available {
			voucherBound = true
		}
		if budget < available {
			available = budget
		}
		if available < 0 {
			available = 0
		}
	}

	var softErr *Error
	if req.seat != nil && available > 0 {
		taken, err := tx.SeatTaken(ctx, req.seat.ID, m.cartID, now)
		if err != nil {
			return 0, false, nil, domain.Internal(err, "cart.commit", "failed to check seat")
		}
		if taken || (req.seat.Blocked && !m.event.AllowsBlockedSeats(m.channel)) {
			softErr = newErrorf(CodeSeatUnavailable, map[string]any{"seat": req.seat.Name})
			available = 0
			voucherBound = false
			if m.metrics != nil {
				m.metrics.SeatConflicts.WithLabelValues(m.event.Slug).Inc()
			}
		}
	}
	if available == 0 {
		return 0, voucherBound, softErr, nil
	}

	for _, q := range req.quotas {
		if _, ok := quotasOK[q.ID]; ok {
			quotasOK[q.ID] -= available
		}
	}
	for _, b := range req.bundled {
		for _, q := range b.Quotas {
			if _, ok := quotasOK[q.ID]; ok {
				quotasOK[q.ID] -= available * b.Count
			}
		}
	}
	if req.voucher != nil {
		vouchersOK[req.voucher.ID] -= available
	}

	// A counter below zero means the clipping above double-counted shared
	// capacity somewhere. Give the capacity back and fulfill nothing rather
	// than oversell.
	if negative(quotasOK, req) {
		for _, q := range req.quotas {
			if _, ok := quotasOK[q.ID]; ok {
				quotasOK[q.ID] += available
			}
		}
		for _, b := range req.bundled {
			for _, q := range b.Quotas {
				if _, ok := quotasOK[q.ID]; ok {
					quotasOK[q.ID] += available * b.Count
				}
			}
		}
		if req.voucher != nil {
			vouchersOK[req.voucher.ID] += available
		}
		m.logger.Error("quota counter went negative during commit, fulfilling nothing",
			"event_id", m.event.ID, "cart_id", m.cartID, "product_id", req.product.ID)
		return 0, false, softErr, nil
	}

	return available, voucherBound, softErr, nil
}

// voucherExhaustedError distinguishes why a voucher has no budget left:
// when live reservations in other carts hold the remaining uses, the buyer
// can retry once those expire.
func (m *Manager) voucherExhaustedError(v *domain.Voucher, dependsOnCart map[uuid.UUID]bool) *Error {
	if dependsOnCart[v.ID] {
		return newErrorf(CodeVoucherRedeemedCart, map[string]any{
			"minutes": m.event.Settings.ReservationTime,
		})
	}
	return newError(CodeVoucherRedeemed)
}

func negative(quotasOK map[uuid.UUID]int, req clipRequest) bool {
	for _, q := range req.quotas {
		if v, ok := quotasOK[q.ID]; ok && v < 0 {
			return true
		}
	}
	for _, b := range req.bundled {
		for _, q := range b.Quotas {
			if v, ok := quotasOK[q.ID]; ok && v < 0 {
				return true
			}
		}
	}
	return false
}

// materialize builds the position row for one fulfilled unit of an add
// operation.
func (m *Manager) materialize(op *addOperation, expiry time.Time) domain.CartPosition {
	pos := domain.CartPosition{
		ID:                 uuid.New(),
		EventID:            m.event.ID,
		CartID:             m.cartID,
		ProductID:          op.Product.ID,
		Price:              op.Price.Gross,
		Expires:            expiry,
		IncludesTax:        op.IncludesTax,
		PriceBeforeVoucher: op.PriceBeforeVoucher,
	}
	if op.Variation != nil {
		vID := op.Variation.ID
		pos.VariationID = &vID
	}
	if op.SubEvent != nil {
		seID := op.SubEvent.ID
		pos.SubEventID = &seID
	}
	if op.Voucher != nil {
		vID := op.Voucher.ID
		pos.VoucherID = &vID
	}
	if op.Seat != nil {
		sID := op.Seat.ID
		pos.SeatID = &sID
	}
	if op.AddonTo != nil {
		pos.AddonToID = op.AddonTo
	}
	return pos
}

// freshQuotaAvailability recounts every contended quota inside the commit
// transaction, bypassing the planning-pass cache.
func (m *Manager) freshQuotaAvailability(ctx context.Context, tx Store, now time.Time) (map[uuid.UUID]int, error) {
	var contended []*domain.Quota
	for id, d := range m.quotaDiff {
		if d > 0 && !m.quotaCache[id].Unlimited() {
			contended = append(contended, m.quotaCache[id])
		}
	}
	out := make(map[uuid.UUID]int, len(contended))
	if len(contended) == 0 {
		return out, nil
	}
	oracle := quota.NewOracle(tx)
	avail, err := oracle.Availability(ctx, contended, now, false)
	if err != nil {
		return nil, err
	}
	for id, a := range avail {
		if !a.Unlimited {
			out[id] = a.Count
		}
	}
	return out, nil
}

// freshVoucherAvailability re-fetches every contended voucher row for its
// latest redeemed counter and counts competing live reservations. The
// positions this batch is extending are excluded so they are not counted
// against their own voucher.
func (m *Manager) freshVoucherAvailability(ctx context.Context, tx Store, sorted []operation, now time.Time) (map[uuid.UUID]int, map[uuid.UUID]bool, error) {
	avail := map[uuid.UUID]int{}
	depends := map[uuid.UUID]bool{}
	if len(m.voucherDiff) == 0 {
		return avail, depends, nil
	}

	var ownExtends []uuid.UUID
	for _, op := range sorted {
		if e, ok := op.(extendOperation); ok && e.Voucher != nil {
			ownExtends = append(ownExtends, e.Position.ID)
		}
	}

	for id, d := range m.voucherDiff {
		if d <= 0 {
			continue
		}
		v, err := tx.VoucherByID(ctx, id)
		if err != nil {
			return nil, nil, domain.Internal(err, "cart.commit", "failed to reload voucher")
		}
		if v == nil {
			avail[id] = 0
			continue
		}
		if v.ValidUntil != nil && v.ValidUntil.Before(now) {
			return nil, nil, newError(CodeVoucherExpired)
		}
		cartCount, err := tx.VoucherCartCount(ctx, id, ownExtends, now)
		if err != nil {
			return nil, nil, domain.Internal(err, "cart.commit", "failed to count voucher reservations")
		}
		n := v.MaxUsages - v.Redeemed - cartCount
		if n < 0 {
			n = 0
		}
		avail[id] = n
		depends[id] = cartCount > 0
	}
	return avail, depends, nil
}

func firstErr(a, b *Error) *Error {
	if a != nil {
		return a
	}
	return b
}
