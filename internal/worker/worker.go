package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/dukerupert/sigyn/internal/cart"
	"github.com/dukerupert/sigyn/internal/domain"
	"github.com/dukerupert/sigyn/internal/jobs"
	"github.com/dukerupert/sigyn/internal/locking"
	"github.com/dukerupert/sigyn/internal/telemetry"
)

// EventSource resolves the event a task belongs to.
type EventSource interface {
	EventByID(ctx context.Context, id uuid.UUID) (*domain.Event, error)
}

// Config holds worker configuration.
type Config struct {
	// MaxAttempts is how often a task is retried after a lock timeout
	// before the caller is told the system is busy.
	MaxAttempts int

	// RetryDelay is the pause between lock timeout retries.
	RetryDelay time.Duration

	// TaskTimeout bounds the total processing time of one task
	// including all retries.
	TaskTimeout time.Duration
}

// Worker consumes cart tasks from the NATS queue and executes them
// against the reservation engine. Each task builds a fresh Manager,
// plans its operations and commits; on a lock timeout the whole
// plan-and-commit cycle is retried from scratch.
type Worker struct {
	conn    *nats.Conn
	store   cart.Store
	events  EventSource
	locker  locking.Locker
	logger  *slog.Logger
	metrics *telemetry.CartMetrics
	config  Config

	baseCtx context.Context
	subs    []*nats.Subscription
}

func New(
	conn *nats.Conn,
	store cart.Store,
	events EventSource,
	locker locking.Locker,
	logger *slog.Logger,
	metrics *telemetry.CartMetrics,
	config Config,
) *Worker {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 5
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 1 * time.Second
	}
	if config.TaskTimeout == 0 {
		config.TaskTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		conn:    conn,
		store:   store,
		events:  events,
		locker:  locker,
		logger:  logger,
		metrics: metrics,
		config:  config,
	}
}

// Start subscribes to all cart task subjects and blocks until the
// context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.baseCtx = ctx

	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{jobs.SubjectAdd, w.handleAdd},
		{jobs.SubjectRemove, w.handleRemove},
		{jobs.SubjectVoucher, w.handleVoucher},
		{jobs.SubjectExtend, w.handleExtend},
		{jobs.SubjectAddons, w.handleAddons},
		{jobs.SubjectClear, w.handleClear},
	}

	for _, h := range handlers {
		sub, err := w.conn.QueueSubscribe(h.subject, jobs.QueueGroup, h.handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", h.subject, err)
		}
		w.subs = append(w.subs, sub)
	}

	w.logger.Info("cart worker started",
		"queue_group", jobs.QueueGroup,
		"max_attempts", w.config.MaxAttempts,
		"retry_delay", w.config.RetryDelay,
	)

	<-ctx.Done()

	w.logger.Info("cart worker shutting down")
	for _, sub := range w.subs {
		_ = sub.Drain()
	}
	return ctx.Err()
}

func (w *Worker) handleAdd(msg *nats.Msg) {
	var task jobs.AddTask
	if !w.decode(msg, "add", &task) {
		return
	}
	items := make([]cart.ItemRequest, 0, len(task.Items))
	for _, it := range task.Items {
		items = append(items, cart.ItemRequest{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			SubEventID:  it.SubEventID,
			Count:       it.Count,
			SeatGUID:    it.SeatGUID,
			VoucherCode: it.VoucherCode,
			CustomPrice: it.CustomPrice,
		})
	}
	w.execute(msg, "add", task.Task, func(ctx context.Context, m *cart.Manager) error {
		return m.AddProducts(ctx, items)
	})
}

func (w *Worker) handleRemove(msg *nats.Msg) {
	var task jobs.RemoveTask
	if !w.decode(msg, "remove", &task) {
		return
	}
	w.execute(msg, "remove", task.Task, func(ctx context.Context, m *cart.Manager) error {
		return m.RemoveProduct(ctx, task.PositionID)
	})
}

func (w *Worker) handleVoucher(msg *nats.Msg) {
	var task jobs.VoucherTask
	if !w.decode(msg, "voucher", &task) {
		return
	}
	w.execute(msg, "voucher", task.Task, func(ctx context.Context, m *cart.Manager) error {
		return m.ApplyVoucher(ctx, task.Code)
	})
}

func (w *Worker) handleExtend(msg *nats.Msg) {
	var task jobs.ExtendTask
	if !w.decode(msg, "extend", &task) {
		return
	}
	// Commit itself renews expired positions; no extra planning needed.
	w.execute(msg, "extend", task.Task, func(ctx context.Context, m *cart.Manager) error {
		return nil
	})
}

func (w *Worker) handleAddons(msg *nats.Msg) {
	var task jobs.AddonsTask
	if !w.decode(msg, "addons", &task) {
		return
	}
	selections := make([]cart.AddonSelection, 0, len(task.Selections))
	for _, sel := range task.Selections {
		selections = append(selections, cart.AddonSelection{
			BasePositionID: sel.BasePositionID,
			ProductID:      sel.ProductID,
			VariationID:    sel.VariationID,
			Count:          sel.Count,
		})
	}
	w.execute(msg, "addons", task.Task, func(ctx context.Context, m *cart.Manager) error {
		return m.SetAddons(ctx, selections)
	})
}

func (w *Worker) handleClear(msg *nats.Msg) {
	var task jobs.ClearTask
	if !w.decode(msg, "clear", &task) {
		return
	}
	w.execute(msg, "clear", task.Task, func(ctx context.Context, m *cart.Manager) error {
		return m.Clear(ctx)
	})
}

func (w *Worker) decode(msg *nats.Msg, taskName string, task any) bool {
	if err := json.Unmarshal(msg.Data, task); err != nil {
		w.logger.Warn("malformed task payload", "task", taskName, "error", err)
		w.reply(msg, jobs.TaskResult{
			Error: &jobs.Notice{Code: "invalid_payload", Message: "The request could not be parsed."},
		})
		return false
	}
	if err := jobs.Validate(task); err != nil {
		w.logger.Warn("invalid task payload", "task", taskName, "error", err)
		w.reply(msg, jobs.TaskResult{
			Error: &jobs.Notice{Code: "invalid_payload", Message: err.Error()},
		})
		return false
	}
	return true
}

func (w *Worker) execute(msg *nats.Msg, taskName string, base jobs.Task, plan func(ctx context.Context, m *cart.Manager) error) {
	defer telemetry.RecoverWithSentry()

	start := time.Now()
	ctx, cancel := context.WithTimeout(w.baseCtx, w.config.TaskTimeout)
	defer cancel()

	event, err := w.events.EventByID(ctx, base.EventID)
	if err != nil {
		w.logger.Error("event lookup failed", "task", taskName, "event_id", base.EventID, "error", err)
		w.reply(msg, internalResult())
		return
	}
	if event == nil {
		w.reply(msg, jobs.TaskResult{
			Error: &jobs.Notice{Code: "unknown_event", Message: "The requested event does not exist."},
		})
		return
	}

	if w.metrics != nil {
		w.metrics.TasksReceived.WithLabelValues(event.Slug, taskName).Inc()
	}

	var warning *cart.Warning
	var runErr error
	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		warning, runErr = w.attempt(ctx, event, base, plan)
		if !errors.Is(runErr, locking.ErrLockTimeout) {
			break
		}
		w.logger.Warn("cart locked, retrying",
			"task", taskName,
			"event", event.Slug,
			"cart_id", base.CartID,
			"attempt", attempt,
		)
		if w.metrics != nil {
			w.metrics.TaskRetries.WithLabelValues(event.Slug, taskName).Inc()
		}
		if attempt == w.config.MaxAttempts {
			break
		}
		select {
		case <-time.After(w.config.RetryDelay):
			continue
		case <-ctx.Done():
		}
		break
	}

	result := jobs.TaskResult{Success: runErr == nil}
	outcome := "ok"
	switch {
	case runErr == nil:
	case errors.Is(runErr, locking.ErrLockTimeout):
		outcome = "busy"
		busy := &cart.Error{Code: cart.CodeBusy}
		result.Error = &jobs.Notice{Code: cart.CodeBusy, Message: busy.Error()}
	default:
		var cartErr *cart.Error
		if errors.As(runErr, &cartErr) {
			outcome = "rejected"
			result.Error = &jobs.Notice{Code: cartErr.Code, Message: cartErr.Error()}
		} else {
			outcome = "error"
			w.logger.Error("cart task failed",
				"task", taskName,
				"event", event.Slug,
				"cart_id", base.CartID,
				"error", runErr,
			)
			telemetry.CaptureTaskError(runErr, taskName, event.Slug, base.CartID)
			result = internalResult()
		}
	}
	if warning != nil {
		result.Warning = &jobs.Notice{Code: warning.Code, Message: warning.String()}
	}

	if w.metrics != nil {
		w.metrics.CommitsTotal.WithLabelValues(event.Slug, outcome).Inc()
		w.metrics.TaskDuration.WithLabelValues(event.Slug, taskName).Observe(time.Since(start).Seconds())
	}

	w.reply(msg, result)
}

// attempt runs one full plan-and-commit cycle on a fresh Manager.
func (w *Worker) attempt(ctx context.Context, event *domain.Event, base jobs.Task, plan func(ctx context.Context, m *cart.Manager) error) (*cart.Warning, error) {
	m := cart.New(cart.Config{
		Store:          w.store,
		Locker:         w.locker,
		Logger:         w.logger,
		Metrics:        w.metrics,
		Event:          event,
		CartID:         base.CartID,
		SalesChannel:   base.SalesChannel,
		InvoiceAddress: invoiceAddress(base.InvoiceAddress),
	})
	if err := plan(ctx, m); err != nil {
		return nil, err
	}
	return m.Commit(ctx)
}

func (w *Worker) reply(msg *nats.Msg, result jobs.TaskResult) {
	data, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("failed to marshal task result", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		w.logger.Error("failed to send task reply", "subject", msg.Subject, "error", err)
	}
}

func internalResult() jobs.TaskResult {
	return jobs.TaskResult{
		Error: &jobs.Notice{Code: "internal", Message: "We were unable to process your request. Please try again."},
	}
}

func invoiceAddress(p *jobs.InvoiceAddressPayload) *domain.InvoiceAddress {
	if p == nil {
		return nil
	}
	return &domain.InvoiceAddress{
		Email:      p.Email,
		Country:    p.Country,
		IsBusiness: p.IsBusiness,
		VATID:      p.VATID,
	}
}
