package cart

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error codes surfaced to the presentation layer. Each code maps to a
// message template; Args carry the interpolation values.
const (
	// timing
	CodeNotStarted            = "not_started"
	CodeEnded                 = "ended"
	CodePaymentEnded          = "payment_ended"
	CodeSubEventNotStarted    = "some_subevent_not_started"
	CodeSubEventEnded         = "some_subevent_ended"
	CodeInactiveSubEvent      = "inactive_subevent"
	CodeSubEventRequired      = "subevent_required"

	// availability
	CodeNotForSale  = "not_for_sale"
	CodeUnavailable = "unavailable"
	CodeInPart      = "in_part"

	// cardinality
	CodeMaxProducts              = "max_products"
	CodeMaxPerProduct            = "max_products_per_product"
	CodeMinPerProduct            = "min_products_per_product"
	CodeMinPerProductRemoved     = "min_products_per_product_removed"

	// voucher
	CodeVoucherInvalid             = "voucher_invalid"
	CodeVoucherRedeemed            = "voucher_redeemed"
	CodeVoucherRedeemedCart        = "voucher_redeemed_cart"
	CodeVoucherRedeemedPartial     = "voucher_redeemed_partial"
	CodeVoucherDouble              = "voucher_double"
	CodeVoucherExpired             = "voucher_expired"
	CodeVoucherInvalidProduct      = "voucher_invalid_product"
	CodeVoucherInvalidSeat         = "voucher_invalid_seat"
	CodeVoucherNoMatch             = "voucher_no_match"
	CodeVoucherProductNotAvailable = "voucher_product_not_available"
	CodeVoucherInvalidSubEvent     = "voucher_invalid_subevent"
	CodeVoucherRequired            = "voucher_required"

	// add-ons and bundles
	CodeAddonInvalidBase     = "addon_invalid_base"
	CodeAddonDuplicateProduct = "addon_duplicate_product"
	CodeAddonMaxCount        = "addon_max_count"
	CodeAddonMinCount        = "addon_min_count"
	CodeAddonNoMulti         = "addon_no_multi"
	CodeAddonOnly            = "addon_only"
	CodeBundledOnly          = "bundled_only"

	// seating
	CodeSeatRequired    = "seat_required"
	CodeSeatInvalid     = "seat_invalid"
	CodeSeatForbidden   = "seat_forbidden"
	CodeSeatUnavailable = "seat_unavailable"
	CodeSeatMultiple    = "seat_multiple"

	// pricing
	CodePriceTooHigh   = "price_too_high"
	CodeCountryBlocked = "country_blocked"

	// policy
	CodeOneTicketPerUser     = "one_ticket_per_user"
	CodeOneTicketPerUserCart = "one_ticket_per_user_cart"

	// misc
	CodeUnknownPosition = "unknown_position"
	CodeEmptyCart       = "empty"
	CodeBusy            = "busy"
)

// messages holds the renderable template per code. Placeholders use the
// {name} form and are filled from Error.Args.
var messages = map[string]string{
	CodeNotStarted:         "The presale period for this event has not yet started.",
	CodeEnded:              "The presale period for this event is over.",
	CodePaymentEnded:       "The payment deadline for this event has passed, no new orders can be placed.",
	CodeSubEventNotStarted: "The presale period for one of the events in your cart has not yet started.",
	CodeSubEventEnded:      "The presale period for one of the events in your cart has ended.",
	CodeInactiveSubEvent:   "The selected date is not active.",
	CodeSubEventRequired:   "No date was selected.",

	CodeNotForSale:  "You selected a product that is not available for sale.",
	CodeUnavailable: "The product {product} is no longer available.",
	CodeInPart:      "The product {product} is only available in part. Only {count} of the requested amount were added to your cart.",

	CodeMaxProducts:          "You cannot select more than {max} products per order.",
	CodeMaxPerProduct:        "You cannot select more than {max} units of the product {product}.",
	CodeMinPerProduct:        "You need to select at least {min} units of the product {product}.",
	CodeMinPerProductRemoved: "We removed {product} from your cart as you cannot buy fewer than {min} units of it.",

	CodeVoucherInvalid:             "This voucher code is not known in our database.",
	CodeVoucherRedeemed:            "This voucher code has already been used the maximum number of times allowed.",
	CodeVoucherRedeemedCart:        "This voucher code is currently locked since it is already contained in a cart. This might mean that someone else is redeeming this voucher right now, or that you tried to redeem it before but did not complete the checkout process. You can try to use it again in {minutes} minutes.",
	CodeVoucherRedeemedPartial:     "This voucher code can only be redeemed {number} more times.",
	CodeVoucherDouble:              "You already used this voucher code. Remove the associated line from your cart if you want to use it for a different product.",
	CodeVoucherExpired:             "This voucher is expired.",
	CodeVoucherInvalidProduct:      "This voucher is not valid for this product.",
	CodeVoucherInvalidSeat:         "This voucher is not valid for this seat.",
	CodeVoucherNoMatch:             "We did not find any position in your cart that we could use this voucher for. If you want to add something new to your cart using that voucher, you can do so with the voucher redemption option on the bottom of the page.",
	CodeVoucherProductNotAvailable: "The product selected by this voucher is not available for sale.",
	CodeVoucherInvalidSubEvent:     "This voucher is not valid for this event date.",
	CodeVoucherRequired:            "You need a valid voucher code to order this product.",

	CodeAddonInvalidBase:      "You cannot attach this add-on to the selected cart position.",
	CodeAddonDuplicateProduct: "You cannot select the same add-on product twice.",
	CodeAddonMaxCount:         "You can select at most {max} add-ons from the category {cat} for the product {base}.",
	CodeAddonMinCount:         "You need to select at least {min} add-ons from the category {cat} for the product {base}.",
	CodeAddonNoMulti:          "You can select every add-on from the category {cat} at most once for the product {base}.",
	CodeAddonOnly:             "One of the products you selected can only be bought as an add-on to another product.",
	CodeBundledOnly:           "One of the products you selected can only be bought as part of a bundle.",

	CodeSeatRequired:    "The product {product} requires you to select a specific seat.",
	CodeSeatInvalid:     "The selected seat {seat} is not valid for the selected product.",
	CodeSeatForbidden:   "The selected seat {seat} can not be booked.",
	CodeSeatUnavailable: "The seat {seat} is no longer available.",
	CodeSeatMultiple:    "You cannot select the seat {seat} more than once.",

	CodePriceTooHigh:   "The entered price is too high.",
	CodeCountryBlocked: "One of the selected products is not available in the selected country.",

	CodeOneTicketPerUser:     "You can only order one ticket of the product {product}.",
	CodeOneTicketPerUserCart: "We reduced the quantity of {product} in your cart since you can only order one ticket of it.",

	CodeUnknownPosition: "Unknown cart position.",
	CodeEmptyCart:       "Your cart is empty.",
	CodeBusy:            "We were not able to process your request completely as the server was too busy. Please try again.",
}

// Error is the business error of the cart engine. Code is machine readable;
// the rendered message is safe to show to buyers.
type Error struct {
	Code string
	Args map[string]any
}

func (e *Error) Error() string {
	msg, ok := messages[e.Code]
	if !ok {
		return e.Code
	}
	if len(e.Args) == 0 {
		return msg
	}
	// deterministic substitution order for reproducible messages
	keys := make([]string, 0, len(e.Args))
	for k := range e.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg = strings.ReplaceAll(msg, "{"+k+"}", fmt.Sprint(e.Args[k]))
	}
	return msg
}

func newError(code string) *Error {
	return &Error{Code: code}
}

func newErrorf(code string, args map[string]any) *Error {
	return &Error{Code: code, Args: args}
}

// IsCode reports whether err is a cart error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Warning is a non-fatal finding surfaced next to a successful commit, for
// example a quantity clamp. It shares the code catalog with Error but is
// not an error value.
type Warning struct {
	Code string
	Args map[string]any
}

func (w *Warning) String() string {
	return (&Error{Code: w.Code, Args: w.Args}).Error()
}
