package verified

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/iap"
)

const signalBufferSize = 64

// Adapter binds the async verified store API to the coordinator. The
// correlation id of a purchase travels through the store as the app account
// token, so every signed transaction names the purchase it belongs to.
type Adapter struct {
	log      *zap.Logger
	store    Store
	verifier *Verifier

	signals chan iap.Signal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	initOnce  sync.Once
	closeOnce sync.Once
}

func New(log *zap.Logger, store Store, verifier *Verifier) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		log:      log,
		store:    store,
		verifier: verifier,
		signals:  make(chan iap.Signal, signalBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (a *Adapter) Platform() iap.Platform {
	return iap.PlatformApple
}

// Initialize starts listening for transaction updates.
func (a *Adapter) Initialize(_ context.Context) error {
	a.initOnce.Do(func() {
		a.wg.Add(1)
		go a.listen()
	})
	return nil
}

func (a *Adapter) listen() {
	defer a.wg.Done()

	updates := a.store.Updates()
	for {
		select {
		case <-a.ctx.Done():
			return
		case token, ok := <-updates:
			if !ok {
				return
			}
			sig := a.purchased(token, "", false)
			a.post(&sig)
		}
	}
}

func (a *Adapter) IsAvailable(_ context.Context) (bool, error) {
	return a.store.CanMakePayments(), nil
}

func (a *Adapter) QueryProducts(ctx context.Context, ids []string) ([]iap.Product, error) {
	products, err := a.store.Products(ctx, ids)
	if err != nil {
		return nil, toError(iap.KindQueryFailed, err)
	}

	result := make([]iap.Product, 0, len(products))
	for _, p := range products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			a.log.Warn("Dropping product with malformed price", zap.String("product_id", p.ID), zap.Error(err))
			continue
		}
		currencyCode, err := iap.NormalizeCurrencyCode(p.CurrencyCode)
		if err != nil {
			a.log.Warn("Dropping product with malformed currency", zap.String("product_id", p.ID), zap.Error(err))
			continue
		}

		result = append(result, iap.Product{
			ID:             p.ID,
			Title:          p.DisplayName,
			Description:    p.Description,
			Price:          p.DisplayPrice,
			RawPrice:       price.InexactFloat64(),
			CurrencyCode:   currencyCode,
			CurrencySymbol: currencySymbol(p.DisplayPrice),
		})
	}
	return result, nil
}

// currencySymbol extracts the symbol from a localized price such as "$4.99"
// or "4,99 €".
func currencySymbol(displayPrice string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == ' ', r == '\u00a0':
			return -1
		}
		return r
	}, displayPrice))
}

// Purchase launches the native purchase, which blocks on the purchase sheet,
// and returns immediately. Its result is posted as a signal.
func (a *Adapter) Purchase(_ context.Context, intent iap.PurchaseIntent, correlationID string) error {
	if !a.store.CanMakePayments() {
		return iap.NewError(iap.KindPurchaseFailed, ErrorCodePurchaseNotAllowed, "payments are not allowed on this device")
	}

	if a.ctx.Err() != nil {
		return iap.ErrInternal.WithMessage("adapter is closed")
	}

	token, err := uuid.Parse(correlationID)
	if err != nil {
		return iap.ErrInternal.WithCause(err).WithMessage("correlation id is not an app account token")
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ref := iap.SignalRef{CorrelationID: correlationID, ProductID: intent.ProductID}

		result, err := a.store.Purchase(a.ctx, intent.ProductID, PurchaseOptions{
			Quantity:        intent.Quantity,
			AppAccountToken: token,
		})
		if err != nil {
			failure := toError(iap.KindPurchaseFailed, err)
			if failure.Kind == iap.KindPurchaseCancelledByUser {
				a.post(&iap.CancelledSignal{SignalRef: ref})
				return
			}
			a.post(&iap.FailedSignal{SignalRef: ref, Err: failure})
			return
		}

		switch result.Kind {
		case PurchaseUserCancelled:
			a.post(&iap.CancelledSignal{SignalRef: ref})
		case PurchasePending:
			a.post(&iap.PendingSignal{SignalRef: ref})
		default:
			sig := a.purchased(result.SignedTransaction, correlationID, false)
			a.post(&sig)
		}
	}()
	return nil
}

// purchased verifies a signed transaction and normalizes it. A transaction
// that fails verification is still identified from its unverified payload so
// the coordinator can fail the right purchase.
func (a *Adapter) purchased(token, correlationID string, restored bool) iap.PurchasedSignal {
	sig := iap.PurchasedSignal{
		Receipt:      token,
		Restored:     restored,
		Quantity:     1,
		Verification: iap.Verification{Mode: iap.VerificationVerified},
	}

	txn, err := a.verifier.Verify(token)
	if err != nil {
		a.log.Warn("Signed transaction failed verification",
			zap.String("receipt", iap.ReceiptFingerprint(token)),
			zap.Error(err),
		)
		sig.Verification = iap.Verification{Mode: iap.VerificationInvalid, Err: err}

		txn, err = Decode(token)
		if err != nil {
			txn = &SignedTransaction{}
		}
	}

	if correlationID == "" && txn.AppAccountToken != "" {
		if parsed, err := uuid.Parse(txn.AppAccountToken); err == nil {
			correlationID = parsed.String()
		}
	}

	sig.SignalRef = iap.SignalRef{
		CorrelationID: correlationID,
		TransactionID: txn.TransactionID,
		ProductID:     txn.ProductID,
	}
	sig.Date = txn.PurchasedAt()
	if txn.Quantity > 0 {
		sig.Quantity = txn.Quantity
	}
	return sig
}

// Finish finishes the transaction with the store. The store has a single
// finish call, so acknowledging a consumable purchase is deferred to its
// consume step.
func (a *Adapter) Finish(ctx context.Context, txn *iap.Transaction, mode iap.FinishMode) error {
	kind := iap.KindAcknowledgeFailed
	if mode == iap.FinishConsume {
		kind = iap.KindConsumeFailed
	}

	if mode == iap.FinishAcknowledge && txn.Consumable && !txn.Restored {
		return nil
	}
	if txn.ID == "" {
		return iap.NewError(kind, ErrorCodeUnknown, "transaction has no identifier")
	}

	if err := a.store.Finish(ctx, txn.ID); err != nil {
		return toError(kind, err)
	}
	return nil
}

// Restore syncs with the store and reports the current entitlements.
func (a *Adapter) Restore(ctx context.Context, _ string) ([]iap.PurchasedSignal, error) {
	if err := a.store.Sync(ctx); err != nil {
		return nil, toError(iap.KindRestoreFailed, err)
	}

	tokens, err := a.store.CurrentEntitlements(ctx)
	if err != nil {
		return nil, toError(iap.KindRestoreFailed, err)
	}

	restored := make([]iap.PurchasedSignal, 0, len(tokens))
	for _, token := range tokens {
		restored = append(restored, a.purchased(token, "", true))
	}
	return restored, nil
}

// ReceiptData returns the signed transaction.
func (a *Adapter) ReceiptData(_ context.Context, txn *iap.Transaction) (string, error) {
	if txn.Receipt == "" {
		return "", iap.ErrInternal.WithMessage("transaction has no signed payload")
	}
	return txn.Receipt, nil
}

func (a *Adapter) CountryCode(ctx context.Context) (string, error) {
	code, err := a.store.StorefrontCountryCode(ctx)
	if err != nil {
		return "", toError(iap.KindInternalError, err)
	}
	return code, nil
}

// Reconnect is a no-op; the store has no service connection.
func (a *Adapter) Reconnect(_ context.Context) error {
	return nil
}

func (a *Adapter) Signals() <-chan iap.Signal {
	return a.signals
}

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		a.wg.Wait()
	})
	return nil
}

func (a *Adapter) post(sig iap.Signal) {
	select {
	case a.signals <- sig:
	case <-a.ctx.Done():
	}
}
