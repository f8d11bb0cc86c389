package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/dukerupert/sigyn/internal/domain"
)

// MaxPrice is the hard ceiling for customer-entered prices.
var MaxPrice = decimal.NewFromInt(100_000_000)

// TaxedPrice is the fully resolved price of one cart line.
type TaxedPrice struct {
	Gross decimal.Decimal
	Net   decimal.Decimal
	Tax   decimal.Decimal

	// Rate is the applied tax rate in percent.
	Rate decimal.Decimal
	Name string
}

// TaxedZero is the price of included add-ons and free bundled items.
func TaxedZero() TaxedPrice {
	return TaxedPrice{
		Gross: decimal.Zero,
		Net:   decimal.Zero,
		Tax:   decimal.Zero,
		Rate:  decimal.Zero,
	}
}

// WithoutTax strips the tax component, keeping the net amount as gross.
// Used for reverse-charge positions whose stored price is net.
func (p TaxedPrice) WithoutTax() TaxedPrice {
	return TaxedPrice{
		Gross: p.Net,
		Net:   p.Net,
		Tax:   decimal.Zero,
		Rate:  decimal.Zero,
	}
}

// ResolveParams carries everything price resolution depends on. Resolution
// is a pure function of these inputs: identical params produce identical
// prices.
type ResolveParams struct {
	Product   *domain.Product
	Variation *domain.ProductVariation
	Voucher   *domain.Voucher
	SubEvent  *domain.SubEvent

	// Rule is the product's tax rule; nil falls back to a zero rate.
	Rule *TaxRule

	// CustomPrice is a buyer-entered price (free-price products) or a
	// bundle's designated price when ForceCustomPrice is set.
	CustomPrice      *decimal.Decimal
	CustomPriceIsNet bool
	ForceCustomPrice bool

	// BundledSum is the designated-price total of bundled sub-items,
	// subtracted from the gross base so it is not counted twice.
	BundledSum decimal.Decimal

	// PriceIncluded marks add-ons whose category is configured as included
	// in the base price; they resolve to zero immediately.
	PriceIncluded bool

	InvoiceAddress *domain.InvoiceAddress
}

// Resolve computes the taxed price for a product or variation, honoring
// sub-event overrides, voucher discounts, custom prices and bundles.
func Resolve(p ResolveParams) (TaxedPrice, error) {
	if p.PriceIncluded {
		return TaxedZero(), nil
	}

	rule := p.Rule
	if rule == nil {
		rule = ZeroRule()
	}
	if !rule.SaleAllowed(p.InvoiceAddress) {
		return TaxedPrice{}, ErrSaleNotAllowed
	}

	base := basePrice(p.Product, p.Variation, p.SubEvent)

	if p.Voucher != nil {
		base = p.Voucher.ApplyDiscount(base)
	}

	price := rule.TaxFromGross(base, p.InvoiceAddress)

	if p.CustomPrice != nil && (p.Product.FreePrice || p.ForceCustomPrice) {
		if p.CustomPrice.GreaterThan(MaxPrice) {
			return TaxedPrice{}, ErrPriceTooHigh
		}
		var custom TaxedPrice
		if p.CustomPriceIsNet {
			custom = rule.TaxFromNet(*p.CustomPrice, p.InvoiceAddress)
		} else {
			custom = rule.TaxFromGross(*p.CustomPrice, p.InvoiceAddress)
		}
		if p.ForceCustomPrice {
			price = custom
		} else if custom.Gross.GreaterThan(price.Gross) {
			price = custom
		}
	}

	if !p.BundledSum.IsZero() {
		price = rule.TaxFromGross(price.Gross.Sub(p.BundledSum), p.InvoiceAddress)
	}

	return price, nil
}

// basePrice resolves the undiscounted list price: product default, then
// variation default, then sub-event overrides (product-level first, then
// variation-level).
func basePrice(product *domain.Product, variation *domain.ProductVariation, subevent *domain.SubEvent) decimal.Decimal {
	price := product.DefaultPrice
	if variation != nil && variation.DefaultPrice != nil {
		price = *variation.DefaultPrice
	}
	if subevent != nil {
		if ov, ok := subevent.ProductOverrides[product.ID]; ok && ov.Price != nil {
			price = *ov.Price
		}
		if variation != nil {
			if ov, ok := subevent.VariationOverrides[variation.ID]; ok && ov.Price != nil {
				price = *ov.Price
			}
		}
	}
	return price
}
