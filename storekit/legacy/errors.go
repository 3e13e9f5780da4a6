package legacy

import (
	"github.com/code-payments/iap-coordinator/iap"
)

var errorCodeNames = map[int]string{
	ErrorCodeUnknown:                "unknown",
	ErrorCodeClientInvalid:          "client_invalid",
	ErrorCodePaymentCancelled:       "payment_cancelled",
	ErrorCodePaymentInvalid:         "payment_invalid",
	ErrorCodePaymentNotAllowed:      "payment_not_allowed",
	ErrorCodeProductNotAvailable:    "product_not_available",
	ErrorCodeNetworkConnectionError: "network_connection_failed",
}

// toError maps a native error onto kind. During a purchase, a cancelled payment
// is a cancellation and an unavailable product is an unknown product.
func toError(kind iap.Kind, err *Error) *iap.Error {
	if err == nil {
		return iap.NewError(kind, ErrorCodeUnknown, "unknown store error")
	}

	if kind == iap.KindPurchaseFailed {
		switch err.Code {
		case ErrorCodePaymentCancelled:
			kind = iap.KindPurchaseCancelledByUser
		case ErrorCodeProductNotAvailable:
			kind = iap.KindProductNotFound
		}
	}

	name, ok := errorCodeNames[err.Code]
	if !ok {
		name = errorCodeNames[ErrorCodeUnknown]
	}
	return iap.NewError(kind, err.Code, err.Description).WithCause(err).WithDetails(map[string]any{
		"domain": "SKErrorDomain",
		"reason": name,
	})
}

// asError maps any error returned by the payment queue.
func asError(kind iap.Kind, err error) *iap.Error {
	if native, ok := err.(*Error); ok {
		return toError(kind, native)
	}
	return iap.NewError(kind, ErrorCodeUnknown, err.Error()).WithCause(err)
}
