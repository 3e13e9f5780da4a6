package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/code-payments/iap-coordinator/storekit/legacy"
)

// PaymentQueue is a sandbox delegate-based payment queue.
type PaymentQueue struct {
	Script

	catalog   *Catalog
	callbacks *callbacks

	mu         sync.Mutex
	disabled   bool
	observers  []legacy.Observer
	nextID     int64
	unfinished map[string]*legacy.PaymentTransaction
	deferred   []*legacy.Payment
	owned      []*legacy.PaymentTransaction
	finished   []string
}

func NewPaymentQueue(catalog *Catalog) *PaymentQueue {
	return &PaymentQueue{
		catalog:    catalog,
		callbacks:  newCallbacks(),
		nextID:     1000000000000000,
		unfinished: make(map[string]*legacy.PaymentTransaction),
	}
}

// SetPaymentsAllowed toggles the device payment restriction.
func (q *PaymentQueue) SetPaymentsAllowed(allowed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disabled = !allowed
}

func (q *PaymentQueue) CanMakePayments() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.disabled
}

// AddObserver registers o and redelivers every unfinished transaction to it.
func (q *PaymentQueue) AddObserver(o legacy.Observer) {
	q.mu.Lock()
	q.observers = append(q.observers, o)
	var unfinished []*legacy.PaymentTransaction
	for _, txn := range q.unfinished {
		unfinished = append(unfinished, txn)
	}
	q.mu.Unlock()

	if len(unfinished) > 0 {
		q.callbacks.run(func() {
			o.UpdatedTransactions(unfinished)
		})
	}
}

func (q *PaymentQueue) RemoveObserver(o legacy.Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, registered := range q.observers {
		if registered == o {
			q.observers = append(q.observers[:i], q.observers[i+1:]...)
			return
		}
	}
}

func (q *PaymentQueue) RequestProducts(_ context.Context, ids []string) ([]*legacy.Product, []string, error) {
	if q.queryFails() {
		return nil, nil, &legacy.Error{Code: legacy.ErrorCodeNetworkConnectionError, Description: "the network connection was lost"}
	}

	var products []*legacy.Product
	var invalid []string
	for _, id := range ids {
		p, ok := q.catalog.Product(id)
		if !ok {
			invalid = append(invalid, id)
			continue
		}
		products = append(products, &legacy.Product{
			ProductIdentifier:    p.ID,
			LocalizedTitle:       p.Title,
			LocalizedDescription: p.Description,
			Price:                p.Price.String(),
			FormattedPrice:       q.catalog.FormatPrice(p.Price),
			CurrencyCode:         q.catalog.Currency,
			CurrencySymbol:       q.catalog.Symbol,
		})
	}
	return products, invalid, nil
}

// AddPayment presents the purchase sheet and reports the scripted outcome to
// the observers.
func (q *PaymentQueue) AddPayment(p *legacy.Payment) error {
	if !q.CanMakePayments() {
		return &legacy.Error{Code: legacy.ErrorCodePaymentNotAllowed, Description: "payments are not allowed"}
	}

	q.notify(&legacy.PaymentTransaction{Payment: p, State: legacy.TransactionStatePurchasing})

	if _, ok := q.catalog.Product(p.ProductIdentifier); !ok {
		q.notify(&legacy.PaymentTransaction{
			Payment: p,
			State:   legacy.TransactionStateFailed,
			Error:   &legacy.Error{Code: legacy.ErrorCodeProductNotAvailable, Description: "product is not available"},
		})
		return nil
	}

	switch q.nextOutcome() {
	case OutcomeCancel:
		q.notify(&legacy.PaymentTransaction{
			Payment: p,
			State:   legacy.TransactionStateFailed,
			Error:   &legacy.Error{Code: legacy.ErrorCodePaymentCancelled, Description: "payment cancelled"},
		})
	case OutcomeFail:
		q.notify(&legacy.PaymentTransaction{
			Payment: p,
			State:   legacy.TransactionStateFailed,
			Error:   &legacy.Error{Code: legacy.ErrorCodeUnknown, Description: "cannot connect to the store"},
		})
	case OutcomePending:
		q.mu.Lock()
		q.deferred = append(q.deferred, p)
		q.mu.Unlock()
		q.notify(&legacy.PaymentTransaction{Payment: p, State: legacy.TransactionStateDeferred})
	default:
		q.notify(q.purchase(p))
	}
	return nil
}

// ApproveDeferred completes every deferred payment.
func (q *PaymentQueue) ApproveDeferred() {
	q.mu.Lock()
	deferred := q.deferred
	q.deferred = nil
	q.mu.Unlock()

	for _, p := range deferred {
		q.notify(q.purchase(p))
	}
}

func (q *PaymentQueue) purchase(p *legacy.Payment) *legacy.PaymentTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	txn := &legacy.PaymentTransaction{
		Identifier: fmt.Sprintf("%d", q.nextID),
		Payment:    p,
		State:      legacy.TransactionStatePurchased,
		Date:       time.Now().UTC(),
	}
	q.unfinished[txn.Identifier] = txn
	return txn
}

func (q *PaymentQueue) FinishTransaction(t *legacy.PaymentTransaction) error {
	if t.State == legacy.TransactionStateFailed {
		return nil
	}
	if q.finishFails() {
		return &legacy.Error{Code: legacy.ErrorCodeUnknown, Description: "finish failed"}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.unfinished[t.Identifier]; !ok {
		return nil
	}
	delete(q.unfinished, t.Identifier)
	q.finished = append(q.finished, t.Identifier)

	p, ok := q.catalog.Product(t.Payment.ProductIdentifier)
	if ok && !p.Consumable && t.State == legacy.TransactionStatePurchased {
		q.owned = append(q.owned, t)
	}
	return nil
}

// RestoreCompletedTransactions replays every owned non-consumable as a
// restored transaction.
func (q *PaymentQueue) RestoreCompletedTransactions(applicationUsername string) {
	if q.restoreFails() {
		q.broadcast(func(o legacy.Observer) {
			o.RestoreFailed(&legacy.Error{Code: legacy.ErrorCodeNetworkConnectionError, Description: "the network connection was lost"})
		})
		return
	}

	q.mu.Lock()
	var restored []*legacy.PaymentTransaction
	for _, original := range q.owned {
		q.nextID++
		txn := &legacy.PaymentTransaction{
			Identifier: fmt.Sprintf("%d", q.nextID),
			Payment: &legacy.Payment{
				ProductIdentifier:   original.Payment.ProductIdentifier,
				Quantity:            1,
				ApplicationUsername: applicationUsername,
			},
			State:    legacy.TransactionStateRestored,
			Date:     time.Now().UTC(),
			Original: original,
		}
		q.unfinished[txn.Identifier] = txn
		restored = append(restored, txn)
	}
	q.mu.Unlock()

	q.broadcast(func(o legacy.Observer) {
		if len(restored) > 0 {
			o.UpdatedTransactions(restored)
		}
		o.RestoreCompleted()
	})
}

// AppStoreReceipt returns a receipt listing every finished transaction.
func (q *PaymentQueue) AppStoreReceipt() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return []byte("sandbox-receipt:" + strings.Join(q.finished, ",")), nil
}

func (q *PaymentQueue) StorefrontCountryCode() (string, error) {
	return q.catalog.Storefront, nil
}

// Unfinished returns the ids of transactions not yet finished.
func (q *PaymentQueue) Unfinished() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, len(q.unfinished))
	for id := range q.unfinished {
		ids = append(ids, id)
	}
	return ids
}

func (q *PaymentQueue) Close() {
	q.callbacks.close()
}

func (q *PaymentQueue) notify(txn *legacy.PaymentTransaction) {
	q.broadcast(func(o legacy.Observer) {
		o.UpdatedTransactions([]*legacy.PaymentTransaction{txn})
	})
}

func (q *PaymentQueue) broadcast(f func(o legacy.Observer)) {
	q.mu.Lock()
	observers := append([]legacy.Observer(nil), q.observers...)
	q.mu.Unlock()

	q.callbacks.run(func() {
		for _, o := range observers {
			f(o)
		}
	})
}
