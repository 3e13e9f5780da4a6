package legacy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-coordinator/iap"
)

func TestToError(t *testing.T) {
	for _, tc := range []struct {
		kind     iap.Kind
		code     int
		expected iap.Kind
	}{
		{iap.KindPurchaseFailed, ErrorCodePaymentCancelled, iap.KindPurchaseCancelledByUser},
		{iap.KindPurchaseFailed, ErrorCodeProductNotAvailable, iap.KindProductNotFound},
		{iap.KindPurchaseFailed, ErrorCodeNetworkConnectionError, iap.KindPurchaseFailed},
		{iap.KindPurchaseFailed, ErrorCodeUnknown, iap.KindPurchaseFailed},
		{iap.KindRestoreFailed, ErrorCodePaymentCancelled, iap.KindRestoreFailed},
		{iap.KindAcknowledgeFailed, ErrorCodeUnknown, iap.KindAcknowledgeFailed},
	} {
		native := &Error{Code: tc.code, Description: "native failure"}
		err := toError(tc.kind, native)

		require.Equal(t, tc.expected, err.Kind)
		require.Equal(t, tc.code, err.Code)
		require.Equal(t, "native failure", err.Message)
		require.Equal(t, "SKErrorDomain", err.Details.Fields["domain"].GetStringValue())
		require.True(t, errors.Is(err, native))
	}
}

func TestToError_Nil(t *testing.T) {
	err := toError(iap.KindPurchaseFailed, nil)
	require.Equal(t, iap.KindPurchaseFailed, err.Kind)
	require.Equal(t, ErrorCodeUnknown, err.Code)
}

func TestAsError_ForeignError(t *testing.T) {
	cause := errors.New("queue unavailable")
	err := asError(iap.KindQueryFailed, cause)
	require.Equal(t, iap.KindQueryFailed, err.Kind)
	require.Equal(t, "queue unavailable", err.Message)
	require.True(t, errors.Is(err, cause))
}
