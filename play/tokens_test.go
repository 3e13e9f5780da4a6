package play

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPurchased_TracksUnacknowledgedTokens(t *testing.T) {
	a := New(zap.NewNop(), nil)

	restored := a.purchased(Purchase{
		OrderID:       "GPA.1",
		PurchaseToken: "token-1",
		Products:      []string{"premium"},
		Acknowledged:  true,
	}, true)
	require.Equal(t, "token-1", restored.Receipt)
	require.True(t, restored.Acknowledged)

	a.purchased(Purchase{
		OrderID:       "GPA.2",
		PurchaseToken: "token-2",
		Products:      []string{"coins_100"},
	}, false)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Equal(t, map[string]string{"GPA.2": "token-2"}, a.tokens)
}
