package pricing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/sigyn/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestResolve_BasePriceChain(t *testing.T) {
	productID := uuid.New()
	variationID := uuid.New()

	product := &domain.Product{ID: productID, DefaultPrice: dec("23.00")}
	variation := &domain.ProductVariation{ID: variationID, DefaultPrice: decPtr("27.00")}

	tests := []struct {
		name      string
		variation *domain.ProductVariation
		subevent  *domain.SubEvent
		wantGross string
	}{
		{
			name:      "product default",
			wantGross: "23.00",
		},
		{
			name:      "variation overrides product",
			variation: variation,
			wantGross: "27.00",
		},
		{
			name: "subevent overrides product",
			subevent: &domain.SubEvent{
				ProductOverrides: map[uuid.UUID]domain.PriceOverride{
					productID: {Price: decPtr("19.00")},
				},
			},
			wantGross: "19.00",
		},
		{
			name:      "subevent variation override wins over all",
			variation: variation,
			subevent: &domain.SubEvent{
				ProductOverrides: map[uuid.UUID]domain.PriceOverride{
					productID: {Price: decPtr("19.00")},
				},
				VariationOverrides: map[uuid.UUID]domain.PriceOverride{
					variationID: {Price: decPtr("31.00")},
				},
			},
			wantGross: "31.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := Resolve(ResolveParams{
				Product:   product,
				Variation: tt.variation,
				SubEvent:  tt.subevent,
			})
			require.NoError(t, err)
			assert.True(t, price.Gross.Equal(dec(tt.wantGross)),
				"gross = %s, want %s", price.Gross, tt.wantGross)
		})
	}
}

func TestResolve_TaxSplit(t *testing.T) {
	product := &domain.Product{ID: uuid.New(), DefaultPrice: dec("23.00")}
	rule := &TaxRule{Name: "VAT", Rate: dec("19")}

	price, err := Resolve(ResolveParams{Product: product, Rule: rule})
	require.NoError(t, err)

	assert.True(t, price.Gross.Equal(dec("23.00")))
	assert.True(t, price.Net.Equal(dec("19.33")), "net = %s", price.Net)
	assert.True(t, price.Tax.Equal(dec("3.67")), "tax = %s", price.Tax)
	assert.True(t, price.Gross.Equal(price.Net.Add(price.Tax)))
	assert.Equal(t, "VAT", price.Name)
}

func TestResolve_Deterministic(t *testing.T) {
	params := ResolveParams{
		Product: &domain.Product{ID: uuid.New(), DefaultPrice: dec("42.42")},
		Rule:    &TaxRule{Rate: dec("7")},
		Voucher: &domain.Voucher{PriceMode: domain.VoucherPriceModePercent, Value: dec("10")},
	}

	first, err := Resolve(params)
	require.NoError(t, err)
	second, err := Resolve(params)
	require.NoError(t, err)

	assert.True(t, first.Gross.Equal(second.Gross))
	assert.True(t, first.Net.Equal(second.Net))
	assert.True(t, first.Tax.Equal(second.Tax))
}

func TestResolve_VoucherDiscounts(t *testing.T) {
	product := &domain.Product{ID: uuid.New(), DefaultPrice: dec("20.00")}

	tests := []struct {
		name      string
		mode      string
		value     string
		wantGross string
	}{
		{"percent", domain.VoucherPriceModePercent, "25", "15.00"},
		{"set price", domain.VoucherPriceModeSet, "5.00", "5.00"},
		{"subtract", domain.VoucherPriceModeSubtract, "3.00", "17.00"},
		{"subtract floors at zero", domain.VoucherPriceModeSubtract, "30.00", "0.00"},
		{"none leaves price", domain.VoucherPriceModeNone, "50", "20.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := Resolve(ResolveParams{
				Product: product,
				Voucher: &domain.Voucher{PriceMode: tt.mode, Value: dec(tt.value)},
			})
			require.NoError(t, err)
			assert.True(t, price.Gross.Equal(dec(tt.wantGross)),
				"gross = %s, want %s", price.Gross, tt.wantGross)
		})
	}
}

func TestResolve_CustomPrice(t *testing.T) {
	free := &domain.Product{ID: uuid.New(), DefaultPrice: dec("10.00"), FreePrice: true}
	fixed := &domain.Product{ID: uuid.New(), DefaultPrice: dec("10.00")}

	tests := []struct {
		name      string
		product   *domain.Product
		custom    *decimal.Decimal
		force     bool
		isNet     bool
		rate      string
		wantGross string
		wantErr   error
	}{
		{
			name:      "higher custom price wins",
			product:   free,
			custom:    decPtr("15.00"),
			wantGross: "15.00",
		},
		{
			name:      "lower custom price is ignored",
			product:   free,
			custom:    decPtr("5.00"),
			wantGross: "10.00",
		},
		{
			name:      "custom price ignored without free pricing",
			product:   fixed,
			custom:    decPtr("50.00"),
			wantGross: "10.00",
		},
		{
			name:      "forced custom price wins even when lower",
			product:   fixed,
			custom:    decPtr("2.00"),
			force:     true,
			wantGross: "2.00",
		},
		{
			name:      "net-entered custom price grossed up",
			product:   free,
			custom:    decPtr("100.00"),
			isNet:     true,
			rate:      "19",
			wantGross: "119.00",
		},
		{
			name:    "ceiling enforced",
			product: free,
			custom:  decPtr("100000001"),
			wantErr: ErrPriceTooHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := ZeroRule()
			if tt.rate != "" {
				rule = &TaxRule{Rate: dec(tt.rate)}
			}
			price, err := Resolve(ResolveParams{
				Product:          tt.product,
				Rule:             rule,
				CustomPrice:      tt.custom,
				CustomPriceIsNet: tt.isNet,
				ForceCustomPrice: tt.force,
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, price.Gross.Equal(dec(tt.wantGross)),
				"gross = %s, want %s", price.Gross, tt.wantGross)
		})
	}
}

func TestResolve_BundledSumSubtracted(t *testing.T) {
	product := &domain.Product{ID: uuid.New(), DefaultPrice: dec("50.00")}
	rule := &TaxRule{Rate: dec("19")}

	price, err := Resolve(ResolveParams{
		Product:    product,
		Rule:       rule,
		BundledSum: dec("10.00"),
	})
	require.NoError(t, err)

	assert.True(t, price.Gross.Equal(dec("40.00")), "gross = %s", price.Gross)
	assert.True(t, price.Net.Equal(dec("33.61")), "net = %s", price.Net)
}

func TestResolve_PriceIncluded(t *testing.T) {
	price, err := Resolve(ResolveParams{
		Product:       &domain.Product{ID: uuid.New(), DefaultPrice: dec("99.00")},
		PriceIncluded: true,
	})
	require.NoError(t, err)
	assert.True(t, price.Gross.IsZero())
	assert.True(t, price.Net.IsZero())
	assert.True(t, price.Tax.IsZero())
}

func TestResolve_CountryBlocked(t *testing.T) {
	product := &domain.Product{ID: uuid.New(), DefaultPrice: dec("10.00")}
	rule := &TaxRule{Rate: dec("19"), BlockedCountries: []string{"RU"}}

	_, err := Resolve(ResolveParams{
		Product:        product,
		Rule:           rule,
		InvoiceAddress: &domain.InvoiceAddress{Country: "RU"},
	})
	require.ErrorIs(t, err, ErrSaleNotAllowed)

	_, err = Resolve(ResolveParams{
		Product:        product,
		Rule:           rule,
		InvoiceAddress: &domain.InvoiceAddress{Country: "DE"},
	})
	require.NoError(t, err)
}

func TestTaxRule_ReverseCharge(t *testing.T) {
	rule := &TaxRule{Rate: dec("19"), EUReverseCharge: true, HomeCountry: "DE"}

	business := &domain.InvoiceAddress{Country: "FR", IsBusiness: true, VATID: "FR123"}
	consumer := &domain.InvoiceAddress{Country: "FR"}

	assert.True(t, rule.EffectiveRate(business).IsZero())
	assert.True(t, rule.EffectiveRate(consumer).Equal(dec("19")))
	assert.True(t, rule.EffectiveRate(nil).Equal(dec("19")))

	price := rule.TaxFromGross(dec("119.00"), business)
	assert.True(t, price.Tax.IsZero())
	assert.True(t, price.Gross.Equal(price.Net))
}
