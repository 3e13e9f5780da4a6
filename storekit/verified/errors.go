package verified

import (
	"github.com/code-payments/iap-coordinator/iap"
)

var errorCodeNames = map[int]string{
	ErrorCodeUnknown:                  "unknown",
	ErrorCodeUserCancelled:            "user_cancelled",
	ErrorCodeNetworkError:             "network_error",
	ErrorCodeSystemError:              "system_error",
	ErrorCodeNotAvailableInStorefront: "not_available_in_storefront",
	ErrorCodeNotEntitled:              "not_entitled",
	ErrorCodeProductUnavailable:       "product_unavailable",
	ErrorCodePurchaseNotAllowed:       "purchase_not_allowed",
	ErrorCodeInvalidQuantity:          "invalid_quantity",
}

func toError(kind iap.Kind, err error) *iap.Error {
	native, ok := err.(*Error)
	if !ok {
		return iap.NewError(kind, ErrorCodeUnknown, err.Error()).WithCause(err)
	}

	if kind == iap.KindPurchaseFailed {
		switch native.Code {
		case ErrorCodeUserCancelled:
			kind = iap.KindPurchaseCancelledByUser
		case ErrorCodeProductUnavailable, ErrorCodeNotAvailableInStorefront:
			kind = iap.KindProductNotFound
		}
	}

	name, ok := errorCodeNames[native.Code]
	if !ok {
		name = errorCodeNames[ErrorCodeUnknown]
	}
	return iap.NewError(kind, native.Code, native.Description).WithCause(err).WithDetails(map[string]any{
		"domain": "StoreKitError",
		"reason": name,
	})
}
