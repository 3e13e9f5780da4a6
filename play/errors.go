package play

import (
	"github.com/code-payments/iap-coordinator/iap"
)

var responseNames = map[int]string{
	ResponseServiceTimeout:      "SERVICE_TIMEOUT",
	ResponseFeatureNotSupported: "FEATURE_NOT_SUPPORTED",
	ResponseServiceDisconnected: "SERVICE_DISCONNECTED",
	ResponseOK:                  "OK",
	ResponseUserCanceled:        "USER_CANCELED",
	ResponseServiceUnavailable:  "SERVICE_UNAVAILABLE",
	ResponseBillingUnavailable:  "BILLING_UNAVAILABLE",
	ResponseItemUnavailable:     "ITEM_UNAVAILABLE",
	ResponseDeveloperError:      "DEVELOPER_ERROR",
	ResponseError:               "ERROR",
	ResponseItemAlreadyOwned:    "ITEM_ALREADY_OWNED",
	ResponseItemNotOwned:        "ITEM_NOT_OWNED",
	ResponseNetworkError:        "NETWORK_ERROR",
}

func responseName(code int) string {
	if name, ok := responseNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}

// disconnected reports response codes the client recovers from by
// reconnecting.
func disconnected(code int) bool {
	switch code {
	case ResponseServiceDisconnected, ResponseServiceUnavailable, ResponseServiceTimeout:
		return true
	}
	return false
}

// toError maps a billing result onto kind. Returns nil for OK.
func toError(kind iap.Kind, result BillingResult) *iap.Error {
	if result.OK() {
		return nil
	}

	switch result.ResponseCode {
	case ResponseUserCanceled:
		if kind == iap.KindPurchaseFailed {
			kind = iap.KindPurchaseCancelledByUser
		}
	case ResponseItemUnavailable:
		if kind == iap.KindPurchaseFailed {
			kind = iap.KindProductNotFound
		}
	}

	message := result.DebugMessage
	if message == "" {
		message = responseName(result.ResponseCode)
	}

	err := iap.NewError(kind, result.ResponseCode, message).WithDetails(map[string]any{
		"responseCode": responseName(result.ResponseCode),
	})
	if disconnected(result.ResponseCode) {
		err = err.WithCause(iap.ErrServiceDisconnected)
	}
	return err
}
