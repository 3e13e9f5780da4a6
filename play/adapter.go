package play

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/iap"
)

const signalBufferSize = 64

// Adapter binds the billing client to the coordinator. The correlation id of a
// purchase travels as the obfuscated profile id, which the billing service
// returns with every purchase.
type Adapter struct {
	log    *zap.Logger
	client BillingClient
	conn   *connection

	signals chan iap.Signal

	ctx    context.Context
	cancel context.CancelFunc

	initOnce  sync.Once
	closeOnce sync.Once

	mu     sync.Mutex
	flow   *billingFlow
	tokens map[string]string
}

// billingFlow is the purchase flow on screen. Cancellations and failures are
// reported without purchases, so they belong to the flow in progress.
type billingFlow struct {
	correlationID string
	productID     string
}

func New(log *zap.Logger, client BillingClient) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		log:     log,
		client:  client,
		conn:    newConnection(log, client),
		signals: make(chan iap.Signal, signalBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		tokens:  make(map[string]string),
	}
}

func (a *Adapter) Platform() iap.Platform {
	return iap.PlatformGoogle
}

// Initialize registers the purchases listener and connects. A failed connect
// is not fatal; every operation connects on demand.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.initOnce.Do(func() {
		a.client.SetPurchasesUpdatedListener(&purchasesListener{a: a})
	})

	if err := a.conn.ensure(ctx, iap.KindInternalError); err != nil {
		a.log.Warn("Billing service unavailable at startup", zap.Error(err))
	}
	return nil
}

func (a *Adapter) IsAvailable(ctx context.Context) (bool, error) {
	if err := a.conn.ensure(ctx, iap.KindInternalError); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		a.log.Debug("Billing service not available", zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (a *Adapter) QueryProducts(ctx context.Context, ids []string) ([]iap.Product, error) {
	if err := a.conn.ensure(ctx, iap.KindQueryFailed); err != nil {
		return nil, err
	}

	result, details := a.client.QueryProductDetails(ctx, ids)
	if err := toError(iap.KindQueryFailed, result); err != nil {
		return nil, err
	}

	products := make([]iap.Product, 0, len(details))
	for _, d := range details {
		offer := d.OneTimePurchaseOfferDetails
		if offer == nil {
			a.log.Debug("Skipping product without a one-time offer", zap.String("product_id", d.ProductID))
			continue
		}

		currencyCode, err := iap.NormalizeCurrencyCode(offer.PriceCurrencyCode)
		if err != nil {
			a.log.Warn("Dropping product with malformed currency", zap.String("product_id", d.ProductID), zap.Error(err))
			continue
		}

		products = append(products, iap.Product{
			ID:             d.ProductID,
			Title:          d.Title,
			Description:    d.Description,
			Price:          offer.FormattedPrice,
			RawPrice:       priceFromMicros(offer.PriceAmountMicros),
			CurrencyCode:   currencyCode,
			CurrencySymbol: currencySymbol(offer.FormattedPrice),
		})
	}
	return products, nil
}

func priceFromMicros(micros int64) float64 {
	return decimal.New(micros, -6).InexactFloat64()
}

// currencySymbol extracts the symbol from a formatted price such as "$4.99"
// or "4,99 €".
func currencySymbol(formatted string) string {
	symbol := make([]rune, 0, len(formatted))
	for _, r := range formatted {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == ' ', r == '\u00a0':
			continue
		}
		symbol = append(symbol, r)
	}
	return string(symbol)
}

// Purchase launches the billing flow. Only one flow can be on screen at a
// time.
func (a *Adapter) Purchase(ctx context.Context, intent iap.PurchaseIntent, correlationID string) error {
	if err := a.conn.ensure(ctx, iap.KindPurchaseFailed); err != nil {
		return err
	}

	a.mu.Lock()
	if a.flow != nil {
		a.mu.Unlock()
		return iap.NewError(iap.KindPurchaseFailed, ResponseDeveloperError, "another purchase flow is in progress")
	}
	a.flow = &billingFlow{correlationID: correlationID, productID: intent.ProductID}
	a.mu.Unlock()

	result := a.client.LaunchBillingFlow(ctx, FlowParams{
		ProductID:           intent.ProductID,
		Quantity:            intent.Quantity,
		ObfuscatedAccountID: intent.ApplicationUserName,
		ObfuscatedProfileID: correlationID,
	})
	if err := toError(iap.KindPurchaseFailed, result); err != nil {
		a.takeFlow("")
		return err
	}
	return nil
}

// takeFlow clears and returns the flow in progress. With a correlation id,
// only that flow is cleared.
func (a *Adapter) takeFlow(correlationID string) *billingFlow {
	a.mu.Lock()
	defer a.mu.Unlock()

	flow := a.flow
	if flow == nil || (correlationID != "" && flow.correlationID != correlationID) {
		return nil
	}
	a.flow = nil
	return flow
}

func (a *Adapter) Finish(ctx context.Context, txn *iap.Transaction, mode iap.FinishMode) error {
	kind := iap.KindAcknowledgeFailed
	if mode == iap.FinishConsume {
		kind = iap.KindConsumeFailed
	}

	a.mu.Lock()
	token, ok := a.tokens[txn.ID]
	a.mu.Unlock()
	if !ok {
		token = txn.Receipt
	}
	if token == "" {
		return iap.NewError(kind, ResponseDeveloperError, "transaction has no purchase token")
	}

	if err := a.conn.ensure(ctx, kind); err != nil {
		return err
	}

	var result BillingResult
	switch mode {
	case iap.FinishConsume:
		result = a.client.Consume(ctx, token)
	default:
		result = a.client.Acknowledge(ctx, token)
	}
	if err := toError(kind, result); err != nil {
		return err
	}

	if mode == iap.FinishConsume || !txn.Consumable {
		a.mu.Lock()
		delete(a.tokens, txn.ID)
		a.mu.Unlock()
	}
	return nil
}

// Restore reports the purchases the billing service still owns for the user.
func (a *Adapter) Restore(ctx context.Context, _ string) ([]iap.PurchasedSignal, error) {
	if err := a.conn.ensure(ctx, iap.KindRestoreFailed); err != nil {
		return nil, err
	}

	result, purchases := a.client.QueryPurchases(ctx)
	if err := toError(iap.KindRestoreFailed, result); err != nil {
		return nil, err
	}

	var restored []iap.PurchasedSignal
	for _, p := range purchases {
		if p.PurchaseState != PurchaseStatePurchased {
			continue
		}
		restored = append(restored, a.purchased(p, true))
	}
	return restored, nil
}

// ReceiptData returns the purchase token.
func (a *Adapter) ReceiptData(_ context.Context, txn *iap.Transaction) (string, error) {
	if txn.Receipt == "" {
		return "", iap.ErrInternal.WithMessage("transaction has no purchase token")
	}
	return txn.Receipt, nil
}

func (a *Adapter) CountryCode(ctx context.Context) (string, error) {
	if err := a.conn.ensure(ctx, iap.KindInternalError); err != nil {
		return "", err
	}

	result, code := a.client.BillingConfig(ctx)
	if err := toError(iap.KindInternalError, result); err != nil {
		return "", err
	}
	return code, nil
}

func (a *Adapter) Reconnect(ctx context.Context) error {
	return a.conn.reconnect(ctx, iap.KindQueryFailed)
}

func (a *Adapter) Signals() <-chan iap.Signal {
	return a.signals
}

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		a.client.EndConnection()
		a.conn.setConnected(false)
	})
	return nil
}

func (a *Adapter) post(sig iap.Signal) {
	select {
	case a.signals <- sig:
	case <-a.ctx.Done():
	}
}

// purchased normalizes a purchased billing purchase and remembers its token
// until it is finished.
func (a *Adapter) purchased(p Purchase, restored bool) iap.PurchasedSignal {
	id := transactionID(p)

	// Acknowledged purchases only come back from Restore; Finish falls back
	// to the token carried as the receipt.
	if !p.Acknowledged {
		a.mu.Lock()
		a.tokens[id] = p.PurchaseToken
		a.mu.Unlock()
	}

	sig := iap.PurchasedSignal{
		SignalRef: iap.SignalRef{
			CorrelationID: p.ObfuscatedProfileID,
			TransactionID: id,
			ProductID:     productID(p),
		},
		Quantity:            p.Quantity,
		Receipt:             p.PurchaseToken,
		ApplicationUserName: p.ObfuscatedAccountID,
		Acknowledged:        p.Acknowledged,
		Restored:            restored,
	}
	if sig.Quantity < 1 {
		sig.Quantity = 1
	}
	if p.PurchaseTime > 0 {
		sig.Date = time.UnixMilli(p.PurchaseTime).UTC()
	}
	return sig
}

// transactionID is the order id, or the purchase token while no order exists.
func transactionID(p Purchase) string {
	if p.OrderID != "" {
		return p.OrderID
	}
	return p.PurchaseToken
}

func productID(p Purchase) string {
	if len(p.Products) == 0 {
		return ""
	}
	return p.Products[0]
}

type purchasesListener struct {
	a *Adapter
}

func (l *purchasesListener) OnPurchasesUpdated(result BillingResult, purchases []Purchase) {
	a := l.a

	if !result.OK() {
		flow := a.takeFlow("")
		if flow == nil {
			a.log.Warn("Dropping purchase update without a flow in progress",
				zap.String("response_code", responseName(result.ResponseCode)),
			)
			return
		}

		ref := iap.SignalRef{CorrelationID: flow.correlationID, ProductID: flow.productID}
		failure := toError(iap.KindPurchaseFailed, result)
		if failure.Kind == iap.KindPurchaseCancelledByUser {
			a.post(&iap.CancelledSignal{SignalRef: ref})
			return
		}
		a.post(&iap.FailedSignal{SignalRef: ref, Err: failure})
		return
	}

	for _, p := range purchases {
		if p.ObfuscatedProfileID != "" {
			a.takeFlow(p.ObfuscatedProfileID)
		}

		switch p.PurchaseState {
		case PurchaseStatePurchased:
			sig := a.purchased(p, false)
			a.post(&sig)
		case PurchaseStatePending:
			a.post(&iap.PendingSignal{SignalRef: iap.SignalRef{
				CorrelationID: p.ObfuscatedProfileID,
				ProductID:     productID(p),
			}})
		default:
			a.log.Debug("Ignoring purchase in unspecified state", zap.String("product_id", productID(p)))
		}
	}
}
