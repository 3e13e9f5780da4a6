package cache

import (
	"sync"

	"github.com/code-payments/iap-coordinator/iap"
)

// Products is the product-details cache. Lookups are O(1); iteration follows
// first-insertion order, which a superseding Put does not change.
type Products struct {
	mu    sync.RWMutex
	byID  map[string]iap.Product
	order []string
}

func NewProducts() *Products {
	return &Products{
		byID: make(map[string]iap.Product),
	}
}

func (c *Products) Put(product iap.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[product.ID]; !ok {
		c.order = append(c.order, product.ID)
	}
	c.byID[product.ID] = product
}

func (c *Products) PutAll(products []iap.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, product := range products {
		if _, ok := c.byID[product.ID]; !ok {
			c.order = append(c.order, product.ID)
		}
		c.byID[product.ID] = product
	}
}

func (c *Products) Get(id string) (iap.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	product, ok := c.byID[id]
	return product, ok
}

// QueryMissing partitions ids against the cache contents without touching the
// network. Both results keep the order of ids.
func (c *Products) QueryMissing(ids []string) (found []iap.Product, missing []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range ids {
		if product, ok := c.byID[id]; ok {
			found = append(found, product)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing
}

func (c *Products) All() []iap.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := make([]iap.Product, 0, len(c.order))
	for _, id := range c.order {
		all = append(all, c.byID[id])
	}
	return all
}

func (c *Products) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.byID)
}

func (c *Products) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID = make(map[string]iap.Product)
	c.order = nil
}
