package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a sellable item: a ticket type, workshop slot, merchandise line.
// The catalog store loads it together with its category, add-on rules and
// bundle definitions so the cart engine never follows lazy references.
type Product struct {
	ID      uuid.UUID
	EventID uuid.UUID
	Name    string

	Active         bool
	AvailableFrom  *time.Time
	AvailableUntil *time.Time

	DefaultPrice decimal.Decimal

	// FreePrice allows the buyer to name a (higher) price, e.g. donations.
	FreePrice bool

	TaxRuleID *uuid.UUID

	// RequireVoucher products can only be bought with a matching voucher.
	// HideWithoutVoucher products additionally require the voucher to carry
	// the show-hidden-products flag.
	RequireVoucher     bool
	HideWithoutVoucher bool

	// RequireBundling products can only be sold as a bundled part of
	// another product, never standalone.
	RequireBundling bool

	SalesChannels []string

	// MaxPerOrder / MinPerOrder bound the per-cart count of this product.
	// Zero means unbounded.
	MaxPerOrder int
	MinPerOrder int

	HasVariations bool

	// RequiresSeat products are sold per seat: every position must carry a
	// seat reference and a line can never cover more than one unit.
	RequiresSeat bool

	// LimitOnePerUser enforces the one-ticket-per-user policy: at most one
	// unit per cart, and none if the buyer already holds a paid or pending
	// order containing this product.
	LimitOnePerUser bool

	Category *Category
	Addons   []AddonRule
	Bundles  []Bundle
}

// IsAvailable reports whether the product can currently be sold, based on
// the active flag and the availability window.
func (p *Product) IsAvailable(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.AvailableFrom != nil && now.Before(*p.AvailableFrom) {
		return false
	}
	if p.AvailableUntil != nil && now.After(*p.AvailableUntil) {
		return false
	}
	return true
}

// SoldOnChannel reports whether the product is enabled for a sales channel.
func (p *Product) SoldOnChannel(channel string) bool {
	for _, c := range p.SalesChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// ProductVariation is one concrete variant of a product (e.g. a T-shirt
// size). A variation without its own price inherits the product price.
type ProductVariation struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Name      string
	Active    bool

	DefaultPrice *decimal.Decimal
}

// Category groups products. Add-on categories hold products that can only
// be attached to a base position, never bought top-level.
type Category struct {
	ID      uuid.UUID
	Name    string
	IsAddon bool
}

// AddonRule configures which add-on category may be attached to a base
// product and within which bounds.
type AddonRule struct {
	AddonCategoryID   uuid.UUID
	AddonCategoryName string
	MinCount          int
	MaxCount          int
	MultiAllowed      bool

	// PriceIncluded add-ons are free for the buyer; the base price covers them.
	PriceIncluded bool
}

// Bundle declares a sub-product that is automatically attached to every
// purchase of the parent product.
type Bundle struct {
	BundledProductID   uuid.UUID
	BundledVariationID *uuid.UUID
	Count              int

	// DesignatedPrice is the share of the parent's price attributed to the
	// bundled item. Zero-valued means the bundled item is free.
	DesignatedPrice decimal.Decimal
}
