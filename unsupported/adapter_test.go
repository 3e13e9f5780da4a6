package unsupported

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-coordinator/iap"
)

func TestUnsupported_EveryOperationRejected(t *testing.T) {
	ctx := context.Background()
	a := New()

	var _ iap.Adapter = a

	assertUnsupported := func(err error) {
		require.Error(t, err)
		require.True(t, errors.Is(err, iap.ErrPlatformNotSupported))
		require.Equal(t, iap.KindPlatformNotSupported, iap.KindOf(err))
	}

	assertUnsupported(a.Initialize(ctx))

	available, err := a.IsAvailable(ctx)
	assertUnsupported(err)
	require.False(t, available)

	products, err := a.QueryProducts(ctx, []string{"coins"})
	assertUnsupported(err)
	require.Empty(t, products)

	assertUnsupported(a.Purchase(ctx, iap.PurchaseIntent{ProductID: "coins"}, "correlation"))
	assertUnsupported(a.Finish(ctx, &iap.Transaction{}, iap.FinishAcknowledge))

	restored, err := a.Restore(ctx, "")
	assertUnsupported(err)
	require.Empty(t, restored)

	_, err = a.ReceiptData(ctx, &iap.Transaction{})
	assertUnsupported(err)

	_, err = a.CountryCode(ctx)
	assertUnsupported(err)

	assertUnsupported(a.Reconnect(ctx))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, ok := <-a.Signals()
	require.False(t, ok)
}
