package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/event"
	"github.com/code-payments/iap-coordinator/iap"
	"github.com/code-payments/iap-coordinator/iap/cache"
	"github.com/code-payments/iap-coordinator/iap/memory"
)

// Coordinator drives every purchase through one lifecycle regardless of which
// native store API backs it. Host operations and native signals for the same
// transaction are serialized on a per-transaction queue.
type Coordinator struct {
	log     *zap.Logger
	adapter iap.Adapter
	store   iap.Store
	clock   func() time.Time

	products *cache.Products
	country  *cache.CountryCode
	emitter  *event.PurchaseEmitter
	queue    *keyedQueue

	// finished remembers native ids of removed transactions.
	finished *ttlcache.Cache

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	initialized bool
	closed      bool
	dispatcher  chan struct{}
	nativeIDs   map[string]string
	consumables map[string]bool
	emitted     map[string]map[emission]struct{}
}

type emission struct {
	state   iap.State
	attempt int
}

func New(adapter iap.Adapter, opts ...Option) *Coordinator {
	o := ApplyOptions(opts...)

	store := o.Store
	if store == nil {
		store = memory.NewInMemory()
	}

	emitter := o.Emitter
	if emitter == nil {
		emitter = event.NewPurchaseEmitter(o.Log, o.EventBufferSize, o.EventNotifyTimeout)
	}

	finished := ttlcache.NewCache()
	finished.SetTTL(o.FinishedTTL)

	consumables := make(map[string]bool)
	for _, id := range o.ConsumableProducts {
		consumables[id] = true
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		log:         o.Log.With(zap.String("platform", adapter.Platform().String())),
		adapter:     adapter,
		store:       store,
		clock:       o.Clock,
		products:    cache.NewProducts(),
		country:     cache.NewCountryCode(adapter, o.CountryCodeTTL),
		emitter:     emitter,
		queue:       newKeyedQueue(ctx),
		finished:    finished,
		ctx:         ctx,
		cancel:      cancel,
		nativeIDs:   make(map[string]string),
		consumables: consumables,
		emitted:     make(map[string]map[emission]struct{}),
	}
}

// Initialize prepares the native layer, reloads retained transactions and
// starts consuming native signals. Calling it again is a no-op.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return iap.ErrInternal.WithMessage("coordinator is closed")
	}
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.adapter.Initialize(ctx); err != nil {
		c.log.Warn("Failed to initialize native store", zap.Error(err))
		return iap.AsError(err)
	}

	resumable, err := c.reload(ctx)
	if err != nil {
		return iap.ErrInternal.WithCause(err).WithMessage("failed to reload retained transactions")
	}

	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.dispatcher = make(chan struct{})
	c.mu.Unlock()

	go c.dispatch()

	for _, txn := range resumable {
		c.resume(txn)
	}

	c.log.Debug("Coordinator initialized", zap.Int("retained", len(resumable)))
	return nil
}

// reload registers the native ids of journaled transactions and returns those
// interrupted mid-finish.
func (c *Coordinator) reload(ctx context.Context) ([]*iap.Transaction, error) {
	txns, err := c.store.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}

	var resumable []*iap.Transaction

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, txn := range txns {
		if txn.ID != "" {
			c.nativeIDs[txn.ID] = txn.CorrelationID
		}
		if txn.Consumable {
			c.consumables[txn.ProductID] = true
		}
		switch txn.State {
		case iap.StateAcknowledging, iap.StateConsuming:
			resumable = append(resumable, txn)
		}
	}
	return resumable, nil
}

func (c *Coordinator) IsAvailable(ctx context.Context) (bool, error) {
	available, err := c.adapter.IsAvailable(ctx)
	if err != nil {
		return false, iap.AsError(err)
	}
	return available, nil
}

// CountryCode returns the ISO 3166 alpha-2 code of the current storefront.
func (c *Coordinator) CountryCode(ctx context.Context) (string, error) {
	code, err := c.country.CountryCode(ctx)
	if err != nil {
		return "", iap.AsError(err)
	}
	return code, nil
}

// Subscribe opens a purchase-update stream. Release it with Unsubscribe.
func (c *Coordinator) Subscribe() *event.PurchaseUpdateStream {
	return c.emitter.Subscribe()
}

func (c *Coordinator) Unsubscribe(stream *event.PurchaseUpdateStream) {
	c.emitter.Unsubscribe(stream)
}

// AddHandler registers an in-process purchase-update handler.
func (c *Coordinator) AddHandler(h event.Handler[string, iap.PurchaseUpdate]) (remove func()) {
	return c.emitter.AddHandler(h)
}

// Products returns the cached product details in first-query order.
func (c *Coordinator) Products() []iap.Product {
	return c.products.All()
}

// Transactions returns the retained transactions: in flight, awaiting
// completion, or failed with a retryable finish.
func (c *Coordinator) Transactions(ctx context.Context) ([]iap.PurchaseDetails, error) {
	txns, err := c.store.ListTransactions(ctx)
	if err != nil {
		return nil, iap.AsError(err)
	}

	details := make([]iap.PurchaseDetails, 0, len(txns))
	for _, txn := range txns {
		details = append(details, txn.Details())
	}
	return details, nil
}

func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dispatcher := c.dispatcher
	c.mu.Unlock()

	c.cancel()
	if dispatcher != nil {
		<-dispatcher
	}
	if pending := c.queue.Len(); pending > 0 {
		c.log.Debug("Draining transaction queues", zap.Int("pending", pending))
	}
	c.queue.Close()

	err := c.adapter.Close()

	c.emitter.Close()
	c.products.Clear()
	c.country.Close()
	c.finished.Close()

	return err
}

// supported rejects host operations on targets without a native store.
func (c *Coordinator) supported() error {
	if c.adapter.Platform() == iap.PlatformUnknown {
		return iap.ErrPlatformNotSupported
	}
	return nil
}

func (c *Coordinator) isConsumable(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumables[productID]
}

func (c *Coordinator) rememberConsumable(productID string, consumable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumables[productID] = consumable
}

func (c *Coordinator) correlationForNativeID(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	correlationID, ok := c.nativeIDs[id]
	return correlationID, ok
}

func (c *Coordinator) bindNativeID(id, correlationID string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nativeIDs[id] = correlationID
}

func (c *Coordinator) isFinished(id string) bool {
	if id == "" {
		return false
	}
	_, ok := c.finished.Get(id)
	return ok
}
