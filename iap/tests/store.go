package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-coordinator/iap"
)

func RunStoreTests(t *testing.T, s iap.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s iap.Store){
		testIapStore_HappyPath,
		testIapStore_NativeIDAssignment,
		testIapStore_NativeIDUniqueness,
		testIapStore_Delete,
		testIapStore_ListOrder,
	} {
		tf(t, s)
		teardown()
	}
}

func newTransaction(correlationID string, createdAt time.Time) *iap.Transaction {
	return &iap.Transaction{
		CorrelationID:       correlationID,
		ProductID:           "sku_a",
		Quantity:            1,
		ApplicationUserName: "user-1",
		Platform:            iap.PlatformApple,
		State:               iap.StatePurchasing,
		CreatedAt:           createdAt,
	}
}

func testIapStore_HappyPath(t *testing.T, store iap.Store) {
	ctx := context.Background()
	expected := newTransaction("corr-1", time.Now().UTC().Truncate(time.Millisecond))

	_, err := store.GetTransaction(ctx, expected.CorrelationID)
	require.Equal(t, iap.ErrNotFound, err)

	require.NoError(t, store.CreateTransaction(ctx, expected))

	actual, err := store.GetTransaction(ctx, expected.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, expected.CorrelationID, actual.CorrelationID)
	require.Equal(t, expected.ProductID, actual.ProductID)
	require.Equal(t, expected.Quantity, actual.Quantity)
	require.Equal(t, expected.ApplicationUserName, actual.ApplicationUserName)
	require.Equal(t, expected.Platform, actual.Platform)
	require.Equal(t, expected.State, actual.State)
	require.True(t, expected.CreatedAt.Equal(actual.CreatedAt))
	require.Empty(t, actual.ID)

	require.Equal(t, iap.ErrExists, store.CreateTransaction(ctx, expected))

	actual.State = iap.StateFailed
	actual.Err = iap.ErrAcknowledgeFailed.WithMessage("billing unavailable")
	actual.Receipt = "receipt"
	actual.Attempt = 2
	require.NoError(t, store.UpdateTransaction(ctx, actual))

	updated, err := store.GetTransaction(ctx, expected.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, iap.StateFailed, updated.State)
	require.NotNil(t, updated.Err)
	require.Equal(t, iap.KindAcknowledgeFailed, updated.Err.Kind)
	require.Equal(t, "billing unavailable", updated.Err.Message)
	require.Equal(t, "receipt", updated.Receipt)
	require.Equal(t, 2, updated.Attempt)
}

func testIapStore_NativeIDAssignment(t *testing.T, store iap.Store) {
	ctx := context.Background()
	txn := newTransaction("corr-1", time.Now())
	require.NoError(t, store.CreateTransaction(ctx, txn))

	_, err := store.GetTransactionByNativeID(ctx, "1000000001")
	require.Equal(t, iap.ErrNotFound, err)

	txn.ID = "1000000001"
	require.NoError(t, store.UpdateTransaction(ctx, txn))

	actual, err := store.GetTransactionByNativeID(ctx, "1000000001")
	require.NoError(t, err)
	require.Equal(t, "corr-1", actual.CorrelationID)

	require.Equal(t, iap.ErrNotFound, store.UpdateTransaction(ctx, newTransaction("unknown", time.Now())))
}

func testIapStore_NativeIDUniqueness(t *testing.T, store iap.Store) {
	ctx := context.Background()

	first := newTransaction("corr-1", time.Now())
	first.ID = "1000000001"
	require.NoError(t, store.CreateTransaction(ctx, first))

	second := newTransaction("corr-2", time.Now())
	second.ID = "1000000001"
	require.Equal(t, iap.ErrExists, store.CreateTransaction(ctx, second))

	second.ID = ""
	require.NoError(t, store.CreateTransaction(ctx, second))

	second.ID = "1000000001"
	require.Equal(t, iap.ErrExists, store.UpdateTransaction(ctx, second))
}

func testIapStore_Delete(t *testing.T, store iap.Store) {
	ctx := context.Background()

	txn := newTransaction("corr-1", time.Now())
	txn.ID = "1000000001"
	require.NoError(t, store.CreateTransaction(ctx, txn))
	require.NoError(t, store.DeleteTransaction(ctx, txn.CorrelationID))

	_, err := store.GetTransaction(ctx, txn.CorrelationID)
	require.Equal(t, iap.ErrNotFound, err)
	_, err = store.GetTransactionByNativeID(ctx, txn.ID)
	require.Equal(t, iap.ErrNotFound, err)
	require.Equal(t, iap.ErrNotFound, store.DeleteTransaction(ctx, txn.CorrelationID))

	// The native id is free again once the previous owner is gone.
	reused := newTransaction("corr-2", time.Now())
	reused.ID = "1000000001"
	require.NoError(t, store.CreateTransaction(ctx, reused))
}

func testIapStore_ListOrder(t *testing.T, store iap.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.CreateTransaction(ctx, newTransaction("corr-3", now.Add(2*time.Second))))
	require.NoError(t, store.CreateTransaction(ctx, newTransaction("corr-1", now)))
	require.NoError(t, store.CreateTransaction(ctx, newTransaction("corr-2", now.Add(time.Second))))

	txns, err := store.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	require.Equal(t, "corr-1", txns[0].CorrelationID)
	require.Equal(t, "corr-2", txns[1].CorrelationID)
	require.Equal(t, "corr-3", txns[2].CorrelationID)
}
