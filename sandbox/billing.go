package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/code-payments/iap-coordinator/iap"
	"github.com/code-payments/iap-coordinator/play"
)

// BillingClient is a sandbox listener-based billing client.
type BillingClient struct {
	Script

	catalog   *Catalog
	callbacks *callbacks

	mu            sync.Mutex
	ready         bool
	connects      int
	setupResults  []int
	disconnects   int
	stateListener play.StateListener
	listener      play.PurchasesUpdatedListener
	nextOrder     int
	owned         map[string]*play.Purchase
	pending       []*play.Purchase
}

func NewBillingClient(catalog *Catalog) *BillingClient {
	return &BillingClient{
		catalog:   catalog,
		callbacks: newCallbacks(),
		owned:     make(map[string]*play.Purchase),
	}
}

// FailConnections makes the next connection attempts finish with codes.
func (c *BillingClient) FailConnections(codes ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setupResults = append(c.setupResults, codes...)
}

// DropConnection drops the connection during the next n calls. Each call
// reports SERVICE_DISCONNECTED.
func (c *BillingClient) DropConnection(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects += n
}

// Disconnect drops the connection and notifies the state listener.
func (c *BillingClient) Disconnect() {
	c.mu.Lock()
	c.ready = false
	listener := c.stateListener
	c.mu.Unlock()

	if listener != nil {
		c.callbacks.run(listener.OnBillingServiceDisconnected)
	}
}

// Connects returns the number of connection attempts.
func (c *BillingClient) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *BillingClient) StartConnection(listener play.StateListener) {
	c.mu.Lock()
	c.connects++
	c.stateListener = listener

	result := play.BillingResult{ResponseCode: play.ResponseOK}
	if len(c.setupResults) > 0 {
		result = play.BillingResult{ResponseCode: c.setupResults[0], DebugMessage: "billing setup failed"}
		c.setupResults = c.setupResults[1:]
	}
	c.mu.Unlock()

	c.callbacks.run(func() {
		if result.OK() {
			c.mu.Lock()
			c.ready = true
			c.mu.Unlock()
		}
		listener.OnBillingSetupFinished(result)
	})
}

func (c *BillingClient) EndConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
}

func (c *BillingClient) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// call checks the connection for one client call.
func (c *BillingClient) call() (play.BillingResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready && c.disconnects > 0 {
		c.disconnects--
		c.ready = false
	}
	if !c.ready {
		return play.BillingResult{ResponseCode: play.ResponseServiceDisconnected, DebugMessage: "service disconnected"}, false
	}
	return play.BillingResult{ResponseCode: play.ResponseOK}, true
}

func (c *BillingClient) QueryProductDetails(_ context.Context, ids []string) (play.BillingResult, []play.ProductDetails) {
	if result, ok := c.call(); !ok {
		return result, nil
	}
	if c.queryFails() {
		return play.BillingResult{ResponseCode: play.ResponseNetworkError, DebugMessage: "network error"}, nil
	}

	var details []play.ProductDetails
	for _, id := range ids {
		p, ok := c.catalog.Product(id)
		if !ok {
			continue
		}
		details = append(details, play.ProductDetails{
			ProductID:   p.ID,
			Title:       p.Title,
			Name:        p.Title,
			Description: p.Description,
			OneTimePurchaseOfferDetails: &play.OneTimePurchaseOfferDetails{
				FormattedPrice:    c.catalog.FormatPrice(p.Price),
				PriceAmountMicros: p.Price.Shift(6).IntPart(),
				PriceCurrencyCode: c.catalog.Currency,
			},
		})
	}
	return play.BillingResult{ResponseCode: play.ResponseOK}, details
}

func (c *BillingClient) LaunchBillingFlow(_ context.Context, params play.FlowParams) play.BillingResult {
	if result, ok := c.call(); !ok {
		return result
	}

	product, ok := c.catalog.Product(params.ProductID)
	if !ok {
		return play.BillingResult{ResponseCode: play.ResponseItemUnavailable, DebugMessage: "item unavailable"}
	}

	if !product.Consumable && c.owns(product.ID) {
		c.update(play.BillingResult{ResponseCode: play.ResponseItemAlreadyOwned, DebugMessage: "item already owned"})
		return play.BillingResult{ResponseCode: play.ResponseOK}
	}

	switch c.nextOutcome() {
	case OutcomeCancel:
		c.update(play.BillingResult{ResponseCode: play.ResponseUserCanceled, DebugMessage: "user canceled"})
	case OutcomeFail:
		c.update(play.BillingResult{ResponseCode: play.ResponseError, DebugMessage: "purchase failed"})
	case OutcomePending:
		p := c.newPurchase(params)
		p.PurchaseState = play.PurchaseStatePending

		c.mu.Lock()
		c.pending = append(c.pending, p)
		c.mu.Unlock()

		c.update(play.BillingResult{ResponseCode: play.ResponseOK}, *p)
	default:
		p := c.newPurchase(params)
		c.complete(p)
		c.update(play.BillingResult{ResponseCode: play.ResponseOK}, *p)
	}
	return play.BillingResult{ResponseCode: play.ResponseOK}
}

// ApprovePending completes every pending purchase.
func (c *BillingClient) ApprovePending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, p := range pending {
		c.complete(p)
		c.update(play.BillingResult{ResponseCode: play.ResponseOK}, *p)
	}
}

func (c *BillingClient) newPurchase(params play.FlowParams) *play.Purchase {
	quantity := params.Quantity
	if quantity < 1 {
		quantity = 1
	}
	return &play.Purchase{
		PurchaseToken:       uuid.NewString(),
		Products:            []string{params.ProductID},
		Quantity:            quantity,
		PurchaseState:       play.PurchaseStatePending,
		PurchaseTime:        time.Now().UnixMilli(),
		ObfuscatedAccountID: params.ObfuscatedAccountID,
		ObfuscatedProfileID: params.ObfuscatedProfileID,
	}
}

func (c *BillingClient) complete(p *play.Purchase) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextOrder++
	p.OrderID = fmt.Sprintf("GPA.3300-0000-0000-%05d", c.nextOrder)
	p.PurchaseState = play.PurchaseStatePurchased
	c.owned[p.PurchaseToken] = p
}

func (c *BillingClient) owns(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.owned {
		if p.Products[0] == productID {
			return true
		}
	}
	return false
}

func (c *BillingClient) update(result play.BillingResult, purchases ...play.Purchase) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	if listener == nil {
		return
	}

	c.callbacks.run(func() {
		listener.OnPurchasesUpdated(result, purchases)
	})
}

func (c *BillingClient) Acknowledge(_ context.Context, token string) play.BillingResult {
	if result, ok := c.call(); !ok {
		return result
	}
	if c.finishFails() {
		return play.BillingResult{ResponseCode: play.ResponseError, DebugMessage: "acknowledge failed"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.owned[token]
	if !ok {
		return play.BillingResult{ResponseCode: play.ResponseItemNotOwned, DebugMessage: "item not owned"}
	}
	p.Acknowledged = true
	return play.BillingResult{ResponseCode: play.ResponseOK}
}

func (c *BillingClient) Consume(_ context.Context, token string) play.BillingResult {
	if result, ok := c.call(); !ok {
		return result
	}
	if c.finishFails() {
		return play.BillingResult{ResponseCode: play.ResponseError, DebugMessage: "consume failed"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.owned[token]; !ok {
		return play.BillingResult{ResponseCode: play.ResponseItemNotOwned, DebugMessage: "item not owned"}
	}
	delete(c.owned, token)
	return play.BillingResult{ResponseCode: play.ResponseOK}
}

// QueryPurchases returns the owned purchases in order.
func (c *BillingClient) QueryPurchases(_ context.Context) (play.BillingResult, []play.Purchase) {
	if result, ok := c.call(); !ok {
		return result, nil
	}
	if c.restoreFails() {
		return play.BillingResult{ResponseCode: play.ResponseNetworkError, DebugMessage: "network error"}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	purchases := make([]play.Purchase, 0, len(c.owned))
	for _, p := range c.owned {
		purchases = append(purchases, *p)
	}
	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].OrderID < purchases[j].OrderID
	})
	return play.BillingResult{ResponseCode: play.ResponseOK}, purchases
}

func (c *BillingClient) BillingConfig(_ context.Context) (play.BillingResult, string) {
	if result, ok := c.call(); !ok {
		return result, ""
	}

	code, err := iap.NormalizeCountryCode(c.catalog.Storefront)
	if err != nil {
		return play.BillingResult{ResponseCode: play.ResponseDeveloperError, DebugMessage: err.Error()}, ""
	}
	return play.BillingResult{ResponseCode: play.ResponseOK}, code
}

func (c *BillingClient) SetPurchasesUpdatedListener(listener play.PurchasesUpdatedListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
}

// Owned returns the purchase tokens the account still owns, keyed by token
// with the acknowledged flag.
func (c *BillingClient) Owned() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	owned := make(map[string]bool, len(c.owned))
	for token, p := range c.owned {
		owned[token] = p.Acknowledged
	}
	return owned
}

func (c *BillingClient) Close() {
	c.callbacks.close()
}
