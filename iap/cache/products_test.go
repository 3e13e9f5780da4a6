package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-coordinator/iap"
)

func TestProducts_QueryMissing(t *testing.T) {
	c := NewProducts()
	c.PutAll([]iap.Product{
		{ID: "a", Title: "A"},
		{ID: "b", Title: "B"},
	})

	found, missing := c.QueryMissing([]string{"c", "a", "d", "b"})
	require.Len(t, found, 2)
	require.Equal(t, "a", found[0].ID)
	require.Equal(t, "b", found[1].ID)
	require.Equal(t, []string{"c", "d"}, missing)
}

func TestProducts_SupersedeKeepsOrder(t *testing.T) {
	c := NewProducts()
	c.Put(iap.Product{ID: "a", Price: "$0.99"})
	c.Put(iap.Product{ID: "b", Price: "$1.99"})
	c.Put(iap.Product{ID: "a", Price: "$2.99"})

	require.Equal(t, 2, c.Len())

	all := c.All()
	require.Equal(t, "a", all[0].ID)
	require.Equal(t, "$2.99", all[0].Price)
	require.Equal(t, "b", all[1].ID)

	product, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "$2.99", product.Price)

	c.Clear()
	require.Zero(t, c.Len())
	_, ok = c.Get("a")
	require.False(t, ok)
}
