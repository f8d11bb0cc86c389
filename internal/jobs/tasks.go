package jobs

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NATS subjects for the cart task queue. Every subject uses request/reply:
// the caller publishes a task and blocks on the TaskResult.
const (
	SubjectAdd     = "cart.add"
	SubjectRemove  = "cart.remove"
	SubjectVoucher = "cart.voucher"
	SubjectExtend  = "cart.extend"
	SubjectAddons  = "cart.addons"
	SubjectClear   = "cart.clear"

	// QueueGroup is the shared queue group so each task is handled by
	// exactly one worker instance.
	QueueGroup = "cart-workers"
)

// Task carries the fields every cart task needs.
type Task struct {
	EventID      uuid.UUID `json:"event_id" validate:"required"`
	CartID       string    `json:"cart_id" validate:"required"`
	SalesChannel string    `json:"sales_channel,omitempty"`

	InvoiceAddress *InvoiceAddressPayload `json:"invoice_address,omitempty"`
}

// InvoiceAddressPayload is the buyer's invoice address as far as pricing
// needs it (reverse charge and one-ticket-per-user checks).
type InvoiceAddressPayload struct {
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Country    string `json:"country,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	IsBusiness bool   `json:"is_business,omitempty"`
	VATID      string `json:"vat_id,omitempty"`
}

// ItemPayload is one requested line in an add task.
type ItemPayload struct {
	ProductID   uuid.UUID  `json:"product_id"`
	VariationID *uuid.UUID `json:"variation_id,omitempty"`
	SubEventID  *uuid.UUID `json:"subevent_id,omitempty"`
	Count       int        `json:"count" validate:"min=1"`

	SeatGUID    string           `json:"seat_guid,omitempty"`
	VoucherCode string           `json:"voucher,omitempty"`
	CustomPrice *decimal.Decimal `json:"price,omitempty"`
}

// AddTask requests adding products to a cart.
type AddTask struct {
	Task
	Items []ItemPayload `json:"items" validate:"required,min=1,dive"`
}

// RemoveTask requests removing a single position from a cart.
type RemoveTask struct {
	Task
	PositionID uuid.UUID `json:"position_id" validate:"required"`
}

// VoucherTask requests applying a voucher to the existing cart content.
type VoucherTask struct {
	Task
	Code string `json:"code" validate:"required"`
}

// ExtendTask requests renewal of expired positions at current conditions.
type ExtendTask struct {
	Task
}

// AddonSelectionPayload is one desired addon attachment in an addons task.
type AddonSelectionPayload struct {
	BasePositionID uuid.UUID  `json:"base_position_id" validate:"required"`
	ProductID      uuid.UUID  `json:"product_id" validate:"required"`
	VariationID    *uuid.UUID `json:"variation_id,omitempty"`
	Count          int        `json:"count" validate:"min=1"`
}

// AddonsTask requests reconciling a cart's addons to the given selection.
type AddonsTask struct {
	Task
	Selections []AddonSelectionPayload `json:"selections" validate:"dive"`
}

// ClearTask requests removal of every position in a cart.
type ClearTask struct {
	Task
}

// TaskResult is the reply sent back for every task.
type TaskResult struct {
	Success bool `json:"success"`

	// Warning is set when the task succeeded but the user should be told
	// something (a count was clamped, for instance).
	Warning *Notice `json:"warning,omitempty"`

	// Error is set when the task failed, or partially failed in a way the
	// user must be told about even though the cart was modified.
	Error *Notice `json:"error,omitempty"`
}

// Notice is a machine-readable code plus its rendered user-facing text.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a task payload against its validation tags.
func Validate(task any) error {
	return validate.Struct(task)
}
