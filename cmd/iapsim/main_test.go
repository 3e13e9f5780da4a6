package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-coordinator/config"
	"github.com/code-payments/iap-coordinator/iap"
)

var sandboxPlatforms = []string{
	config.PlatformStoreKit,
	config.PlatformStoreKit2,
	config.PlatformPlay,
}

func execute(args ...string) (string, error) {
	cmd := newRootCommand()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func executePurchases(t *testing.T, args ...string) []iap.PurchaseDetails {
	out, err := execute(args...)
	require.NoError(t, err)

	var purchases []iap.PurchaseDetails
	require.NoError(t, json.Unmarshal([]byte(out), &purchases), out)
	return purchases
}

func TestQuery(t *testing.T) {
	for _, platform := range sandboxPlatforms {
		t.Run(platform, func(t *testing.T) {
			out, err := execute("query", "premium", "missing", "--platform", platform)
			require.NoError(t, err)

			var resp iap.ProductDetailsResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			require.Nil(t, resp.Error)
			require.Len(t, resp.ProductDetails, 1)
			require.Equal(t, "premium", resp.ProductDetails[0].ID)
			require.Equal(t, "USD", resp.ProductDetails[0].CurrencyCode)
			require.Equal(t, []string{"missing"}, resp.NotFoundIDs)
		})
	}
}

func TestBuy(t *testing.T) {
	for _, platform := range sandboxPlatforms {
		t.Run(platform, func(t *testing.T) {
			purchases := executePurchases(t, "buy", "premium", "coins_100", "--platform", platform)
			require.Len(t, purchases, 2)

			for i, productID := range []string{"premium", "coins_100"} {
				require.Equal(t, productID, purchases[i].ProductID)
				require.Equal(t, iap.StatusPurchased, purchases[i].Status)
				require.NotEmpty(t, purchases[i].PurchaseID)
				require.False(t, purchases[i].PendingCompletePurchase)
				require.Nil(t, purchases[i].Error)
			}
		})
	}
}

func TestBuy_ScriptedOutcomes(t *testing.T) {
	for _, platform := range sandboxPlatforms {
		t.Run(platform, func(t *testing.T) {
			purchases := executePurchases(t, "buy", "coins_100", "coins_1000",
				"--platform", platform,
				"--outcome", "cancel,fail",
			)
			require.Len(t, purchases, 2)

			require.Equal(t, iap.StatusCanceled, purchases[0].Status)
			require.Empty(t, purchases[0].ReceiptData)
			require.Empty(t, purchases[0].PurchaseToken)

			require.Equal(t, iap.StatusError, purchases[1].Status)
			require.NotNil(t, purchases[1].Error)
			require.Equal(t, iap.KindPurchaseFailed, purchases[1].Error.Kind)
		})
	}
}

func TestBuy_PendingApproved(t *testing.T) {
	for _, platform := range sandboxPlatforms {
		t.Run(platform, func(t *testing.T) {
			purchases := executePurchases(t, "buy", "coins_100", "--platform", platform, "--outcome", "pending")
			require.Len(t, purchases, 1)
			require.Equal(t, iap.StatusPending, purchases[0].Status)

			purchases = executePurchases(t, "buy", "coins_100", "--platform", platform, "--outcome", "pending", "--approve")
			require.Len(t, purchases, 1)
			require.Equal(t, iap.StatusPurchased, purchases[0].Status)
		})
	}
}

func TestBuy_AwaitingCompletion(t *testing.T) {
	for _, platform := range sandboxPlatforms {
		t.Run(platform, func(t *testing.T) {
			purchases := executePurchases(t, "buy", "coins_100", "--platform", platform, "--no-auto-consume")
			require.Len(t, purchases, 1)
			require.Equal(t, iap.StatusPurchased, purchases[0].Status)
			require.True(t, purchases[0].PendingCompletePurchase)

			purchases = executePurchases(t, "buy", "coins_100", "--platform", platform, "--no-auto-consume", "--complete")
			require.Len(t, purchases, 1)
			require.Equal(t, iap.StatusPurchased, purchases[0].Status)
			require.False(t, purchases[0].PendingCompletePurchase)
		})
	}
}

func TestBuy_UnqueriedProductRejected(t *testing.T) {
	purchases := executePurchases(t, "buy", "missing")
	require.Len(t, purchases, 1)
	require.Equal(t, "missing", purchases[0].ProductID)
	require.NotNil(t, purchases[0].Error)
	require.Equal(t, iap.KindProductNotFound, purchases[0].Error.Kind)
}

func TestBuy_InvalidOutcome(t *testing.T) {
	_, err := execute("buy", "premium", "--outcome", "refund")
	require.Error(t, err)
}

func TestRestore(t *testing.T) {
	for _, platform := range sandboxPlatforms {
		t.Run(platform, func(t *testing.T) {
			purchases := executePurchases(t, "restore", "--owned", "premium", "--platform", platform)
			require.Len(t, purchases, 1)
			require.Equal(t, "premium", purchases[0].ProductID)
			require.Equal(t, iap.StatusRestored, purchases[0].Status)
		})
	}
}

func TestCountry(t *testing.T) {
	for _, platform := range sandboxPlatforms {
		t.Run(platform, func(t *testing.T) {
			out, err := execute("country", "--platform", platform)
			require.NoError(t, err)
			require.Equal(t, "US\n", out)
		})
	}
}

func TestJournal(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "journal.db")

	purchases := executePurchases(t, "buy", "coins_100", "--no-auto-consume", "--journal", journal)
	require.Len(t, purchases, 1)
	require.True(t, purchases[0].PendingCompletePurchase)

	retained := executePurchases(t, "transactions", "--journal", journal)
	require.Len(t, retained, 1)
	require.Equal(t, purchases[0].PurchaseID, retained[0].PurchaseID)
	require.Equal(t, iap.StatusPurchased, retained[0].Status)
	require.True(t, retained[0].PendingCompletePurchase)

	retained = executePurchases(t, "transactions")
	require.Empty(t, retained)
}

func TestUnsupportedPlatform(t *testing.T) {
	_, err := execute("query", "premium", "--platform", config.PlatformUnsupported)
	require.Error(t, err)
	require.True(t, errors.Is(err, iap.ErrPlatformNotSupported))
}

func TestInvalidPlatform(t *testing.T) {
	_, err := execute("country", "--platform", "windows-phone")
	require.Error(t, err)
}
