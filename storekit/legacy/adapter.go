package legacy

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/iap"
)

const signalBufferSize = 64

// Adapter binds the delegate-based payment queue to the coordinator.
type Adapter struct {
	log   *zap.Logger
	queue PaymentQueue

	signals  chan iap.Signal
	done     chan struct{}
	observer *observer

	initOnce  sync.Once
	closeOnce sync.Once

	mu         sync.Mutex
	pending    map[*Payment]string
	unfinished map[string]*PaymentTransaction
	restoring  *restoreRun
}

type restoreRun struct {
	purchases []iap.PurchasedSignal
	result    chan *Error
}

func New(log *zap.Logger, queue PaymentQueue) *Adapter {
	a := &Adapter{
		log:        log,
		queue:      queue,
		signals:    make(chan iap.Signal, signalBufferSize),
		done:       make(chan struct{}),
		pending:    make(map[*Payment]string),
		unfinished: make(map[string]*PaymentTransaction),
	}
	a.observer = &observer{a: a}
	return a
}

func (a *Adapter) Platform() iap.Platform {
	return iap.PlatformApple
}

// Initialize registers the transaction observer. The queue redelivers every
// unfinished transaction once an observer is attached.
func (a *Adapter) Initialize(_ context.Context) error {
	a.initOnce.Do(func() {
		a.queue.AddObserver(a.observer)
	})
	return nil
}

func (a *Adapter) IsAvailable(_ context.Context) (bool, error) {
	return a.queue.CanMakePayments(), nil
}

func (a *Adapter) QueryProducts(ctx context.Context, ids []string) ([]iap.Product, error) {
	products, invalid, err := a.queue.RequestProducts(ctx, ids)
	if err != nil {
		return nil, asError(iap.KindQueryFailed, err)
	}
	if len(invalid) > 0 {
		a.log.Debug("Store returned invalid product identifiers", zap.Strings("product_ids", invalid))
	}

	result := make([]iap.Product, 0, len(products))
	for _, p := range products {
		product, err := toProduct(p)
		if err != nil {
			a.log.Warn("Dropping malformed product", zap.String("product_id", p.ProductIdentifier), zap.Error(err))
			continue
		}
		result = append(result, product)
	}
	return result, nil
}

func toProduct(p *Product) (iap.Product, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return iap.Product{}, err
	}
	currencyCode, err := iap.NormalizeCurrencyCode(p.CurrencyCode)
	if err != nil {
		return iap.Product{}, err
	}

	formatted := p.FormattedPrice
	if formatted == "" {
		formatted = p.CurrencySymbol + price.StringFixed(2)
	}

	return iap.Product{
		ID:             p.ProductIdentifier,
		Title:          p.LocalizedTitle,
		Description:    p.LocalizedDescription,
		Price:          formatted,
		RawPrice:       price.InexactFloat64(),
		CurrencyCode:   currencyCode,
		CurrencySymbol: p.CurrencySymbol,
	}, nil
}

// Purchase adds a payment to the queue. The payment object is the only link
// between the request and the transaction the queue later reports for it.
func (a *Adapter) Purchase(_ context.Context, intent iap.PurchaseIntent, correlationID string) error {
	if !a.queue.CanMakePayments() {
		return iap.NewError(iap.KindPurchaseFailed, ErrorCodePaymentNotAllowed, "payments are not allowed on this device")
	}

	payment := &Payment{
		ProductIdentifier:   intent.ProductID,
		Quantity:            intent.Quantity,
		ApplicationUsername: intent.ApplicationUserName,
	}

	a.mu.Lock()
	a.pending[payment] = correlationID
	a.mu.Unlock()

	if err := a.queue.AddPayment(payment); err != nil {
		a.mu.Lock()
		delete(a.pending, payment)
		a.mu.Unlock()
		return asError(iap.KindPurchaseFailed, err)
	}
	return nil
}

// Finish calls FinishTransaction. The queue has a single finish call, so
// acknowledging a consumable purchase is deferred to its consume step.
func (a *Adapter) Finish(_ context.Context, txn *iap.Transaction, mode iap.FinishMode) error {
	kind := iap.KindAcknowledgeFailed
	if mode == iap.FinishConsume {
		kind = iap.KindConsumeFailed
	}

	if mode == iap.FinishAcknowledge && txn.Consumable && !txn.Restored {
		return nil
	}

	a.mu.Lock()
	native, ok := a.unfinished[txn.ID]
	a.mu.Unlock()
	if !ok {
		return iap.NewError(kind, ErrorCodeUnknown, "no unfinished transaction "+txn.ID)
	}

	if err := a.queue.FinishTransaction(native); err != nil {
		return asError(kind, err)
	}

	a.mu.Lock()
	delete(a.unfinished, txn.ID)
	a.mu.Unlock()
	return nil
}

// RedeliversUnfinished reports true: FinishTransaction needs the transaction
// the queue replays to a newly added observer.
func (a *Adapter) RedeliversUnfinished() bool {
	return true
}

// Restore asks the queue to replay completed transactions and collects them
// until the queue reports the restore finished.
func (a *Adapter) Restore(ctx context.Context, applicationUserName string) ([]iap.PurchasedSignal, error) {
	run := &restoreRun{result: make(chan *Error, 1)}

	a.mu.Lock()
	if a.restoring != nil {
		a.mu.Unlock()
		return nil, iap.ErrRestoreFailed.WithMessage("restore already in progress")
	}
	a.restoring = run
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.restoring = nil
		a.mu.Unlock()
	}()

	a.queue.RestoreCompletedTransactions(applicationUserName)

	select {
	case err := <-run.result:
		if err != nil {
			return nil, toError(iap.KindRestoreFailed, err)
		}
	case <-ctx.Done():
		return nil, iap.ErrRestoreFailed.WithCause(ctx.Err()).WithMessage("restore interrupted")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]iap.PurchasedSignal(nil), run.purchases...), nil
}

func (a *Adapter) ReceiptData(_ context.Context, _ *iap.Transaction) (string, error) {
	return a.receipt()
}

func (a *Adapter) receipt() (string, error) {
	raw, err := a.queue.AppStoreReceipt()
	if err != nil {
		return "", iap.ErrInternal.WithCause(err).WithMessage("failed to read app receipt")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (a *Adapter) CountryCode(_ context.Context) (string, error) {
	code, err := a.queue.StorefrontCountryCode()
	if err != nil {
		return "", asError(iap.KindInternalError, err)
	}
	return code, nil
}

// Reconnect is a no-op; the payment queue has no service connection.
func (a *Adapter) Reconnect(_ context.Context) error {
	return nil
}

func (a *Adapter) Signals() <-chan iap.Signal {
	return a.signals
}

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.queue.RemoveObserver(a.observer)
		close(a.done)
	})
	return nil
}

func (a *Adapter) post(sig iap.Signal) {
	select {
	case a.signals <- sig:
	case <-a.done:
	}
}

// correlate returns the correlation id of the payment. Terminal updates
// release the payment.
func (a *Adapter) correlate(payment *Payment, release bool) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	correlationID := a.pending[payment]
	if release {
		delete(a.pending, payment)
	}
	return correlationID
}

type observer struct {
	a *Adapter
}

func (o *observer) UpdatedTransactions(txns []*PaymentTransaction) {
	for _, txn := range txns {
		o.a.updated(txn)
	}
}

func (o *observer) RestoreCompleted() {
	o.a.restoreFinished(nil)
}

func (o *observer) RestoreFailed(err *Error) {
	if err == nil {
		err = &Error{Code: ErrorCodeUnknown, Description: "restore failed"}
	}
	o.a.restoreFinished(err)
}

func (a *Adapter) restoreFinished(err *Error) {
	a.mu.Lock()
	run := a.restoring
	a.mu.Unlock()
	if run == nil {
		return
	}

	select {
	case run.result <- err:
	default:
	}
}

func (a *Adapter) updated(txn *PaymentTransaction) {
	var productID, userName string
	quantity := 1
	if txn.Payment != nil {
		productID = txn.Payment.ProductIdentifier
		userName = txn.Payment.ApplicationUsername
		if txn.Payment.Quantity > 0 {
			quantity = txn.Payment.Quantity
		}
	}

	log := a.log.With(
		zap.String("transaction_id", txn.Identifier),
		zap.String("product_id", productID),
	)

	switch txn.State {
	case TransactionStatePurchasing:
		// Already reflected by the submitted purchase.

	case TransactionStateDeferred:
		a.post(&iap.PendingSignal{SignalRef: iap.SignalRef{
			CorrelationID: a.correlate(txn.Payment, false),
			TransactionID: txn.Identifier,
			ProductID:     productID,
		}})

	case TransactionStatePurchased, TransactionStateRestored:
		a.mu.Lock()
		a.unfinished[txn.Identifier] = txn
		a.mu.Unlock()

		receipt, err := a.receipt()
		if err != nil {
			log.Warn("Failed to read app receipt", zap.Error(err))
		}

		sig := iap.PurchasedSignal{
			SignalRef: iap.SignalRef{
				CorrelationID: a.correlate(txn.Payment, true),
				TransactionID: txn.Identifier,
				ProductID:     productID,
			},
			Quantity:            quantity,
			Date:                txn.Date,
			Receipt:             receipt,
			ApplicationUserName: userName,
			Restored:            txn.State == TransactionStateRestored,
		}
		if txn.Original != nil && !txn.Original.Date.IsZero() {
			sig.Date = txn.Original.Date
		}

		if sig.Restored && a.collectRestored(sig) {
			return
		}
		a.post(&sig)

	case TransactionStateFailed:
		// Failed transactions are finished right away; nothing is left to
		// acknowledge.
		if err := a.queue.FinishTransaction(txn); err != nil {
			log.Warn("Failed to finish failed transaction", zap.Error(err))
		}

		ref := iap.SignalRef{
			CorrelationID: a.correlate(txn.Payment, true),
			TransactionID: txn.Identifier,
			ProductID:     productID,
		}
		if txn.Error != nil && txn.Error.Code == ErrorCodePaymentCancelled {
			a.post(&iap.CancelledSignal{SignalRef: ref})
			return
		}
		a.post(&iap.FailedSignal{SignalRef: ref, Err: toError(iap.KindPurchaseFailed, txn.Error)})

	default:
		log.Warn("Ignoring transaction in unknown state", zap.Int("state", int(txn.State)))
	}
}

func (a *Adapter) collectRestored(sig iap.PurchasedSignal) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.restoring == nil {
		return false
	}
	a.restoring.purchases = append(a.restoring.purchases, sig)
	return true
}
