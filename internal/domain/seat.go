package domain

import "github.com/google/uuid"

// Seat is one reservable place in a seating plan, bound to the product it
// is sold as (its seat category mapping resolves to exactly one product).
type Seat struct {
	ID         uuid.UUID
	EventID    uuid.UUID
	SubEventID *uuid.UUID

	// GUID is the stable public identifier used by seat selection UIs.
	GUID string

	Name      string
	ProductID uuid.UUID

	// Blocked seats are withheld from general sale; only explicitly allowed
	// sales channels may reserve them.
	Blocked bool
}
