package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/sigyn/internal/domain"
)

// TaxRule describes how a product is taxed and in which countries it may be
// sold at all.
type TaxRule struct {
	ID   uuid.UUID
	Name string

	// Rate is the tax rate in percent, e.g. 19 for 19%.
	Rate decimal.Decimal

	// EUReverseCharge zero-rates sales to VAT-registered businesses outside
	// the rule's home country.
	EUReverseCharge bool
	HomeCountry     string

	// BlockedCountries lists ISO country codes this product must not be
	// sold to (e.g. embargo or licensing restrictions).
	BlockedCountries []string
}

// ZeroRule is the default rule applied when a product carries no tax rule.
func ZeroRule() *TaxRule {
	return &TaxRule{Rate: decimal.Zero}
}

// SaleAllowed reports whether a sale under this rule is permitted for the
// given invoice address. A nil address is treated as unrestricted.
func (r *TaxRule) SaleAllowed(addr *domain.InvoiceAddress) bool {
	if addr == nil || addr.Country == "" {
		return true
	}
	for _, c := range r.BlockedCountries {
		if c == addr.Country {
			return false
		}
	}
	return true
}

// EffectiveRate returns the rate applicable for the given invoice address,
// taking reverse charge into account.
func (r *TaxRule) EffectiveRate(addr *domain.InvoiceAddress) decimal.Decimal {
	if r.EUReverseCharge && addr != nil && addr.IsBusiness && addr.VATID != "" && addr.Country != r.HomeCountry {
		return decimal.Zero
	}
	return r.Rate
}

// TaxFromGross derives a TaxedPrice from a gross amount.
func (r *TaxRule) TaxFromGross(gross decimal.Decimal, addr *domain.InvoiceAddress) TaxedPrice {
	rate := r.EffectiveRate(addr)
	gross = gross.Round(2)
	net := gross.Div(decimal.NewFromInt(1).Add(rate.Div(decimal.NewFromInt(100)))).Round(2)
	return TaxedPrice{
		Gross: gross,
		Net:   net,
		Tax:   gross.Sub(net),
		Rate:  rate,
		Name:  r.Name,
	}
}

// TaxFromNet derives a TaxedPrice from a net amount.
func (r *TaxRule) TaxFromNet(net decimal.Decimal, addr *domain.InvoiceAddress) TaxedPrice {
	rate := r.EffectiveRate(addr)
	gross := net.Mul(decimal.NewFromInt(1).Add(rate.Div(decimal.NewFromInt(100)))).Round(2)
	net = net.Round(2)
	return TaxedPrice{
		Gross: gross,
		Net:   net,
		Tax:   gross.Sub(net),
		Rate:  rate,
		Name:  r.Name,
	}
}
