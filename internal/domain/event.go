package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is the sales context every cart operates in. Presale windows and
// per-event settings gate what a cart may do; the event ID also scopes the
// cross-process commit lock.
type Event struct {
	ID       uuid.UUID
	Slug     string
	Name     string
	Currency string

	// HasSubEvents marks event series: every position must then reference a
	// dated occurrence (SubEvent) instead of the event itself.
	HasSubEvents bool

	PresaleStart *time.Time
	PresaleEnd   *time.Time

	// PaymentTermLast is the last point in time payments may be initiated.
	// After it, no new orders (and therefore no new reservations) are allowed.
	PaymentTermLast *time.Time

	Settings EventSettings
}

// EventSettings holds the per-event knobs the cart engine consults.
type EventSettings struct {
	// ReservationTime is how long a cart position stays reserved, in minutes.
	ReservationTime int

	// MaxProductsPerOrder caps the number of top-level cart lines.
	MaxProductsPerOrder int

	// MaxProductsExemptChannels lists sales channels the cart size cap
	// does not apply to, e.g. a box office or reseller channel.
	MaxProductsExemptChannels []string

	// DisplayNetPrices controls whether customer-entered prices are net.
	DisplayNetPrices bool

	// SeatingChoice enables seat selection for this event.
	SeatingChoice bool

	// SeatingAllowBlockedSeatsForChannel lists sales channels that may book
	// blocked seats (e.g. a box office channel).
	SeatingAllowBlockedSeatsForChannel []string
}

// PresaleHasEnded reports whether the presale window is over at now.
func (e *Event) PresaleHasEnded(now time.Time) bool {
	return e.PresaleEnd != nil && now.After(*e.PresaleEnd)
}

// AllowsBlockedSeats reports whether the given sales channel may reserve
// seats that are administratively blocked.
func (e *Event) AllowsBlockedSeats(channel string) bool {
	for _, c := range e.Settings.SeatingAllowBlockedSeatsForChannel {
		if c == channel {
			return true
		}
	}
	return false
}

// SubEvent is one dated occurrence of an event series. It carries its own
// presale window, activity flag and price/availability overrides.
type SubEvent struct {
	ID      uuid.UUID
	EventID uuid.UUID
	Name    string
	Active  bool

	PresaleStart    *time.Time
	PresaleEnd      *time.Time
	PaymentTermLast *time.Time

	// ProductOverrides and VariationOverrides replace list price or disable
	// sale for a single occurrence.
	ProductOverrides   map[uuid.UUID]PriceOverride
	VariationOverrides map[uuid.UUID]PriceOverride
}

// PriceOverride is a per-sub-event price or availability override.
type PriceOverride struct {
	Price    *decimal.Decimal
	Disabled bool
}

// PresaleHasEnded reports whether this occurrence's presale is over at now.
func (se *SubEvent) PresaleHasEnded(now time.Time) bool {
	return se.PresaleEnd != nil && now.After(*se.PresaleEnd)
}

// InvoiceAddress is the minimal slice of the buyer's invoice data the cart
// engine needs: tax country resolution and the one-ticket-per-user check.
type InvoiceAddress struct {
	Email      string
	Country    string
	IsBusiness bool
	VATID      string
}
