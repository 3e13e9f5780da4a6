package play_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/coordinator"
	"github.com/code-payments/iap-coordinator/iap"
	"github.com/code-payments/iap-coordinator/play"
	"github.com/code-payments/iap-coordinator/sandbox"
	"github.com/code-payments/iap-coordinator/testutil"
)

type testEnv struct {
	coordinator *coordinator.Coordinator
	adapter     *play.Adapter
	client      *sandbox.BillingClient
	updates     *testutil.PurchaseUpdates
}

func setup(t *testing.T) *testEnv {
	log := zap.Must(zap.NewDevelopment())
	catalog := sandbox.DefaultCatalog()

	client := sandbox.NewBillingClient(catalog)
	t.Cleanup(client.Close)

	adapter := play.New(log, client)
	c := coordinator.New(
		adapter,
		coordinator.WithLogger(log),
		coordinator.WithConsumableProducts(catalog.ConsumableIDs()...),
	)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	updates := testutil.CollectPurchaseUpdates(t, c)
	require.NoError(t, c.Initialize(context.Background()))

	resp, err := c.QueryProductDetails(context.Background(), []string{"premium", "coins_100"})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.Len(t, resp.ProductDetails, 2)

	return &testEnv{
		coordinator: c,
		adapter:     adapter,
		client:      client,
		updates:     updates,
	}
}

func (e *testEnv) buy(t *testing.T, productID string) string {
	correlationID, err := e.coordinator.BuyNonConsumable(context.Background(), coordinator.PurchaseParam{
		ProductID:           productID,
		ApplicationUserName: "account-1",
	})
	require.NoError(t, err)
	return correlationID
}

func TestPlay_QueryProducts(t *testing.T) {
	env := setup(t)

	products := env.coordinator.Products()
	require.Equal(t, "premium", products[0].ID)
	require.Equal(t, "$4.99", products[0].Price)
	require.Equal(t, 4.99, products[0].RawPrice)
	require.Equal(t, "USD", products[0].CurrencyCode)
	require.Equal(t, "$", products[0].CurrencySymbol)
	require.Equal(t, 1, env.client.Connects())
}

func TestPlay_NonConsumablePurchase(t *testing.T) {
	env := setup(t)
	env.buy(t, "premium")

	details := env.updates.WaitForStatus(t, "premium", iap.StatusPurchased)
	require.NotEmpty(t, details.PurchaseID)
	require.NotEmpty(t, details.PurchaseToken)
	require.Empty(t, details.ReceiptData)
	require.Equal(t, "google", details.VerificationData.Source)
	require.Equal(t, details.PurchaseToken, details.VerificationData.ServerVerificationData)
	require.True(t, details.Acknowledged)

	acknowledged, owned := env.client.Owned()[details.PurchaseToken]
	require.True(t, owned)
	require.True(t, acknowledged)
}

func TestPlay_AutoConsume(t *testing.T) {
	env := setup(t)

	_, err := env.coordinator.BuyConsumable(context.Background(), coordinator.PurchaseParam{ProductID: "coins_100"}, true)
	require.NoError(t, err)

	details := env.updates.WaitForStatus(t, "coins_100", iap.StatusPurchased)
	require.False(t, details.PendingCompletePurchase)
	require.Empty(t, env.client.Owned())
}

func TestPlay_ConsumableAwaitsCompletion(t *testing.T) {
	env := setup(t)

	_, err := env.coordinator.BuyConsumable(context.Background(), coordinator.PurchaseParam{ProductID: "coins_100"}, false)
	require.NoError(t, err)

	details := env.updates.WaitForStatus(t, "coins_100", iap.StatusPurchased)
	require.True(t, details.PendingCompletePurchase)
	require.True(t, env.client.Owned()[details.PurchaseToken])

	completed, err := env.coordinator.CompletePurchase(context.Background(), details.PurchaseID)
	require.NoError(t, err)
	require.False(t, completed.PendingCompletePurchase)
	require.Empty(t, env.client.Owned())
}

func TestPlay_CancelledPurchase(t *testing.T) {
	env := setup(t)
	env.client.QueueOutcomes(sandbox.OutcomeCancel)
	env.buy(t, "premium")

	details := env.updates.WaitForStatus(t, "premium", iap.StatusCanceled)
	require.Equal(t, iap.KindPurchaseCancelledByUser, details.Error.Kind)
	require.Equal(t, play.ResponseUserCanceled, details.Error.Code)

	// The flow ended, so the next purchase can start.
	env.buy(t, "premium")
	env.updates.WaitForStatus(t, "premium", iap.StatusPurchased)
}

func TestPlay_FailedPurchase(t *testing.T) {
	env := setup(t)
	env.client.QueueOutcomes(sandbox.OutcomeFail)
	env.buy(t, "premium")

	details := env.updates.WaitForStatus(t, "premium", iap.StatusError)
	require.Equal(t, iap.KindPurchaseFailed, details.Error.Kind)
	require.Equal(t, play.ResponseError, details.Error.Code)
}

func TestPlay_ItemAlreadyOwned(t *testing.T) {
	env := setup(t)
	env.buy(t, "premium")
	env.updates.WaitForStatus(t, "premium", iap.StatusPurchased)

	env.buy(t, "premium")
	details := env.updates.WaitForStatus(t, "premium", iap.StatusError)
	require.Equal(t, iap.KindPurchaseFailed, details.Error.Kind)
	require.Equal(t, play.ResponseItemAlreadyOwned, details.Error.Code)
	require.Equal(t, "ITEM_ALREADY_OWNED", details.Error.Details.Fields["responseCode"].GetStringValue())
}

func TestPlay_PendingPurchaseApproved(t *testing.T) {
	env := setup(t)
	env.client.QueueOutcomes(sandbox.OutcomePending)
	env.buy(t, "premium")

	pending := env.updates.WaitForStatus(t, "premium", iap.StatusPending)
	require.Empty(t, pending.PurchaseID)

	env.client.ApprovePending()
	details := env.updates.WaitForStatus(t, "premium", iap.StatusPurchased)
	require.NotEmpty(t, details.PurchaseID)
	require.Len(t, env.updates.ForProduct("premium"), 2)
}

func TestPlay_FinishFailureIsRetryable(t *testing.T) {
	env := setup(t)
	env.client.FailFinishes(1)
	env.buy(t, "premium")

	failed := env.updates.WaitForStatus(t, "premium", iap.StatusError)
	require.Equal(t, iap.KindAcknowledgeFailed, failed.Error.Kind)
	require.Equal(t, play.ResponseError, failed.Error.Code)
	require.True(t, failed.PendingCompletePurchase)
	require.False(t, env.client.Owned()[failed.PurchaseToken])

	completed, err := env.coordinator.CompletePurchase(context.Background(), failed.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, iap.StatusPurchased, completed.Status)
	require.True(t, env.client.Owned()[failed.PurchaseToken])
}

func TestPlay_QueryReconnectsOnce(t *testing.T) {
	env := setup(t)
	env.client.DropConnection(1)

	resp, err := env.coordinator.QueryProductDetails(context.Background(), []string{"coins_1000"})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.Len(t, resp.ProductDetails, 1)
	require.Equal(t, 2, env.client.Connects())
}

func TestPlay_QueryFailsAfterOneRetry(t *testing.T) {
	env := setup(t)
	env.client.DropConnection(2)

	resp, err := env.coordinator.QueryProductDetails(context.Background(), []string{"coins_1000"})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.Equal(t, iap.KindQueryFailed, resp.Error.Kind)
	require.Equal(t, play.ResponseServiceDisconnected, resp.Error.Code)
	require.Equal(t, []string{"coins_1000"}, resp.NotFoundIDs)
	require.Equal(t, 2, env.client.Connects())
}

func TestPlay_ConcurrentReconnectsShareOneConnection(t *testing.T) {
	env := setup(t)
	env.client.Disconnect()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- env.adapter.Reconnect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 2, env.client.Connects())
	require.True(t, env.client.IsReady())
}

func TestPlay_ConnectionSetupFailure(t *testing.T) {
	log := zap.Must(zap.NewDevelopment())
	client := sandbox.NewBillingClient(sandbox.DefaultCatalog())
	t.Cleanup(client.Close)
	client.FailConnections(play.ResponseBillingUnavailable, play.ResponseBillingUnavailable)

	c := coordinator.New(play.New(log, client), coordinator.WithLogger(log))
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	// Initialization survives an unavailable billing service.
	require.NoError(t, c.Initialize(context.Background()))

	available, err := c.IsAvailable(context.Background())
	require.NoError(t, err)
	require.False(t, available)

	available, err = c.IsAvailable(context.Background())
	require.NoError(t, err)
	require.True(t, available)
}

func TestPlay_RestorePurchases(t *testing.T) {
	env := setup(t)
	env.buy(t, "premium")
	original := env.updates.WaitForStatus(t, "premium", iap.StatusPurchased)

	restored, err := env.coordinator.RestorePurchases(context.Background(), "account-1")
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Equal(t, original.PurchaseID, restored[0].PurchaseID)
	require.Equal(t, original.PurchaseToken, restored[0].PurchaseToken)
	require.Equal(t, iap.StatusRestored, restored[0].Status)
	require.True(t, restored[0].Acknowledged)
}

func TestPlay_RestoredConsumableAwaitsCompletion(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.coordinator.BuyConsumable(ctx, coordinator.PurchaseParam{ProductID: "coins_100"}, false)
	require.NoError(t, err)
	original := env.updates.WaitForStatus(t, "coins_100", iap.StatusPurchased)
	require.True(t, original.PendingCompletePurchase)
	require.NoError(t, env.coordinator.Close())

	// A fresh install on the same account restores the purchase the previous
	// one acknowledged but never consumed.
	log := zap.Must(zap.NewDevelopment())
	c := coordinator.New(
		play.New(log, env.client),
		coordinator.WithLogger(log),
		coordinator.WithConsumableProducts("coins_100"),
	)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})
	require.NoError(t, c.Initialize(ctx))

	restored, err := c.RestorePurchases(ctx, "")
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Equal(t, original.PurchaseID, restored[0].PurchaseID)
	require.Equal(t, iap.StatusRestored, restored[0].Status)
	require.True(t, restored[0].PendingCompletePurchase)
	require.True(t, env.client.Owned()[original.PurchaseToken])

	txns, err := c.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	receipt, err := c.ReceiptData(ctx, original.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, original.PurchaseToken, receipt)

	completed, err := c.CompletePurchase(ctx, original.PurchaseID)
	require.NoError(t, err)
	require.False(t, completed.PendingCompletePurchase)
	require.Empty(t, env.client.Owned())
}

func TestPlay_RestoreFailure(t *testing.T) {
	env := setup(t)
	env.client.FailRestores(1)

	_, err := env.coordinator.RestorePurchases(context.Background(), "")
	require.ErrorIs(t, err, iap.ErrRestoreFailed)
	require.Equal(t, play.ResponseNetworkError, iap.AsError(err).Code)
}

func TestPlay_CountryCode(t *testing.T) {
	env := setup(t)

	code, err := env.coordinator.CountryCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, "US", code)
}
