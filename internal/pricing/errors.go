package pricing

import "errors"

// Price resolution failure modes. The cart engine translates these into
// its own error taxonomy (price_too_high / country_blocked).
var (
	ErrPriceTooHigh   = errors.New("entered price exceeds the maximum allowed price")
	ErrSaleNotAllowed = errors.New("sale is not allowed for the resolved invoice country")
)
