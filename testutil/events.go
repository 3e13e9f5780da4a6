package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-coordinator/event"
	"github.com/code-payments/iap-coordinator/iap"
)

const waitTimeout = 2 * time.Second

type HandlerRegistry interface {
	AddHandler(h event.Handler[string, iap.PurchaseUpdate]) (remove func())
}

// PurchaseUpdates records every purchase-update batch delivered to it.
type PurchaseUpdates struct {
	mu      sync.Mutex
	batches []iap.PurchaseUpdate
}

func CollectPurchaseUpdates(t *testing.T, registry HandlerRegistry) *PurchaseUpdates {
	collector := &PurchaseUpdates{}
	remove := registry.AddHandler(event.HandlerFunc[string, iap.PurchaseUpdate](func(name string, update iap.PurchaseUpdate) {
		if name != iap.PurchaseUpdateEvent {
			return
		}
		collector.mu.Lock()
		collector.batches = append(collector.batches, update)
		collector.mu.Unlock()
	}))
	t.Cleanup(remove)
	return collector
}

func (c *PurchaseUpdates) Batches() []iap.PurchaseUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()

	batches := make([]iap.PurchaseUpdate, len(c.batches))
	copy(batches, c.batches)
	return batches
}

// Purchases flattens every batch in delivery order.
func (c *PurchaseUpdates) Purchases() []iap.PurchaseDetails {
	var purchases []iap.PurchaseDetails
	for _, batch := range c.Batches() {
		purchases = append(purchases, batch.Purchases...)
	}
	return purchases
}

// ForProduct returns the delivered records of productID in delivery order.
func (c *PurchaseUpdates) ForProduct(productID string) []iap.PurchaseDetails {
	var purchases []iap.PurchaseDetails
	for _, p := range c.Purchases() {
		if p.ProductID == productID {
			purchases = append(purchases, p)
		}
	}
	return purchases
}

// WaitForStatus blocks until a record of productID with status was delivered
// and returns it.
func (c *PurchaseUpdates) WaitForStatus(t *testing.T, productID string, status iap.Status) iap.PurchaseDetails {
	var found iap.PurchaseDetails
	require.Eventually(t, func() bool {
		for _, p := range c.ForProduct(productID) {
			if p.Status == status {
				found = p
				return true
			}
		}
		return false
	}, waitTimeout, 5*time.Millisecond, "no %s update for %s", status, productID)
	return found
}

// WaitForCount blocks until at least n records were delivered.
func (c *PurchaseUpdates) WaitForCount(t *testing.T, n int) []iap.PurchaseDetails {
	require.Eventually(t, func() bool {
		return len(c.Purchases()) >= n
	}, waitTimeout, 5*time.Millisecond, "expected %d purchase updates", n)
	return c.Purchases()
}

// RequireQuiet asserts that no further records arrive for a short while.
func (c *PurchaseUpdates) RequireQuiet(t *testing.T, expected int) {
	require.Never(t, func() bool {
		return len(c.Purchases()) > expected
	}, 100*time.Millisecond, 10*time.Millisecond)
	require.Len(t, c.Purchases(), expected)
}
