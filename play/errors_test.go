package play

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-coordinator/iap"
)

func TestToError(t *testing.T) {
	require.Nil(t, toError(iap.KindQueryFailed, BillingResult{ResponseCode: ResponseOK}))

	for _, tc := range []struct {
		kind         iap.Kind
		code         int
		expected     iap.Kind
		disconnected bool
	}{
		{iap.KindPurchaseFailed, ResponseUserCanceled, iap.KindPurchaseCancelledByUser, false},
		{iap.KindPurchaseFailed, ResponseItemUnavailable, iap.KindProductNotFound, false},
		{iap.KindPurchaseFailed, ResponseItemAlreadyOwned, iap.KindPurchaseFailed, false},
		{iap.KindPurchaseFailed, ResponseDeveloperError, iap.KindPurchaseFailed, false},
		{iap.KindQueryFailed, ResponseServiceDisconnected, iap.KindQueryFailed, true},
		{iap.KindQueryFailed, ResponseServiceUnavailable, iap.KindQueryFailed, true},
		{iap.KindQueryFailed, ResponseServiceTimeout, iap.KindQueryFailed, true},
		{iap.KindQueryFailed, ResponseNetworkError, iap.KindQueryFailed, false},
		{iap.KindQueryFailed, ResponseFeatureNotSupported, iap.KindQueryFailed, false},
		{iap.KindAcknowledgeFailed, ResponseItemNotOwned, iap.KindAcknowledgeFailed, false},
		{iap.KindConsumeFailed, ResponseError, iap.KindConsumeFailed, false},
		{iap.KindRestoreFailed, ResponseBillingUnavailable, iap.KindRestoreFailed, false},
	} {
		err := toError(tc.kind, BillingResult{ResponseCode: tc.code})
		require.NotNil(t, err)
		require.Equal(t, tc.expected, err.Kind, responseName(tc.code))
		require.Equal(t, tc.code, err.Code)
		require.Equal(t, responseName(tc.code), err.Message)
		require.Equal(t, responseName(tc.code), err.Details.Fields["responseCode"].GetStringValue())
		require.Equal(t, tc.disconnected, iap.IsServiceDisconnected(err), responseName(tc.code))
	}
}

func TestToError_DebugMessage(t *testing.T) {
	err := toError(iap.KindPurchaseFailed, BillingResult{ResponseCode: ResponseError, DebugMessage: "server error"})
	require.Equal(t, "server error", err.Message)
	require.Equal(t, "UNKNOWN", responseName(42))
}

func TestPriceFromMicros(t *testing.T) {
	require.Equal(t, 4.99, priceFromMicros(4_990_000))
	require.Equal(t, 0.99, priceFromMicros(990_000))
	require.Equal(t, 1200.0, priceFromMicros(1_200_000_000))
	require.Equal(t, 0.0, priceFromMicros(0))
}

func TestCurrencySymbol(t *testing.T) {
	require.Equal(t, "$", currencySymbol("$4.99"))
	require.Equal(t, "€", currencySymbol("4,99 €"))
	require.Equal(t, "€", currencySymbol("4,99\u00a0€"))
	require.Equal(t, "CA$", currencySymbol("CA$1,299.00"))
}

func TestTransactionID(t *testing.T) {
	require.Equal(t, "GPA.1", transactionID(Purchase{OrderID: "GPA.1", PurchaseToken: "token"}))
	require.Equal(t, "token", transactionID(Purchase{PurchaseToken: "token"}))
	require.Equal(t, "", productID(Purchase{}))
	require.Equal(t, "coins", productID(Purchase{Products: []string{"coins", "gems"}}))
}
