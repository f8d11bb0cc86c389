package domain

import "github.com/google/uuid"

// Quota is a shared capacity limit across one or more products or
// variations, optionally scoped to a single sub-event. A nil Size means the
// quota is unlimited and never blocks a sale.
//
// The invariant the whole cart engine exists to protect: confirmed order
// consumption plus live cart reservations against a quota never exceeds
// Size, unless a voucher explicitly bypasses quota checks.
type Quota struct {
	ID         uuid.UUID
	EventID    uuid.UUID
	SubEventID *uuid.UUID
	Name       string
	Size       *int
}

// Unlimited reports whether this quota can never run out.
func (q *Quota) Unlimited() bool {
	return q.Size == nil
}
