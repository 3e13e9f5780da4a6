package coordinator

import (
	"context"
	"sync"

	"github.com/code-payments/iap-coordinator/iap"
)

type finishCall struct {
	transactionID string
	mode          iap.FinishMode
}

// fakeAdapter is a scriptable native layer. Tests drive purchase outcomes by
// posting signals.
type fakeAdapter struct {
	mu sync.Mutex

	catalog    map[string]iap.Product
	queryErrs  []error
	queryCalls [][]string
	reconnects int

	purchaseErr error
	purchases   []string

	finishErrs map[iap.FinishMode][]error
	finishes   []finishCall

	restored   []iap.PurchasedSignal
	restoreErr error

	country string
	signals chan iap.Signal
	closed  bool

	// redelivers makes the adapter behave like a queue that replays
	// unfinished transactions to a new observer.
	redelivers bool
}

func newFakeAdapter(products ...iap.Product) *fakeAdapter {
	catalog := make(map[string]iap.Product)
	for _, p := range products {
		catalog[p.ID] = p
	}
	return &fakeAdapter{
		catalog:    catalog,
		finishErrs: make(map[iap.FinishMode][]error),
		country:    "USA",
		signals:    make(chan iap.Signal, 64),
	}
}

func (a *fakeAdapter) Platform() iap.Platform {
	return iap.PlatformApple
}

func (a *fakeAdapter) Initialize(_ context.Context) error {
	return nil
}

func (a *fakeAdapter) IsAvailable(_ context.Context) (bool, error) {
	return true, nil
}

func (a *fakeAdapter) QueryProducts(_ context.Context, ids []string) ([]iap.Product, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.queryCalls = append(a.queryCalls, ids)
	if len(a.queryErrs) > 0 {
		err := a.queryErrs[0]
		a.queryErrs = a.queryErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	var products []iap.Product
	for _, id := range ids {
		if p, ok := a.catalog[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func (a *fakeAdapter) Purchase(_ context.Context, _ iap.PurchaseIntent, correlationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.purchaseErr != nil {
		return a.purchaseErr
	}
	a.purchases = append(a.purchases, correlationID)
	return nil
}

func (a *fakeAdapter) Finish(_ context.Context, txn *iap.Transaction, mode iap.FinishMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if errs := a.finishErrs[mode]; len(errs) > 0 {
		a.finishErrs[mode] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}
	a.finishes = append(a.finishes, finishCall{transactionID: txn.ID, mode: mode})
	return nil
}

func (a *fakeAdapter) Restore(_ context.Context, _ string) ([]iap.PurchasedSignal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.restoreErr != nil {
		return nil, a.restoreErr
	}
	restored := make([]iap.PurchasedSignal, len(a.restored))
	copy(restored, a.restored)
	return restored, nil
}

func (a *fakeAdapter) RedeliversUnfinished() bool {
	return a.redelivers
}

func (a *fakeAdapter) ReceiptData(_ context.Context, txn *iap.Transaction) (string, error) {
	return txn.Receipt, nil
}

func (a *fakeAdapter) CountryCode(_ context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.country, nil
}

func (a *fakeAdapter) Reconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reconnects++
	return nil
}

func (a *fakeAdapter) Signals() <-chan iap.Signal {
	return a.signals
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAdapter) post(sig iap.Signal) {
	a.signals <- sig
}

func (a *fakeAdapter) lastPurchase() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.purchases) == 0 {
		return ""
	}
	return a.purchases[len(a.purchases)-1]
}

func (a *fakeAdapter) purchaseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.purchases)
}

func (a *fakeAdapter) queryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queryCalls)
}

func (a *fakeAdapter) reconnectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reconnects
}

func (a *fakeAdapter) finishCalls() []finishCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	calls := make([]finishCall, len(a.finishes))
	copy(calls, a.finishes)
	return calls
}

func (a *fakeAdapter) failFinish(mode iap.FinishMode, errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finishErrs[mode] = append(a.finishErrs[mode], errs...)
}

// recordingStore records every state a transaction is journaled in.
type recordingStore struct {
	iap.Store

	mu     sync.Mutex
	states map[string][]iap.State
}

func newRecordingStore(store iap.Store) *recordingStore {
	return &recordingStore{
		Store:  store,
		states: make(map[string][]iap.State),
	}
}

func (s *recordingStore) CreateTransaction(ctx context.Context, txn *iap.Transaction) error {
	if err := s.Store.CreateTransaction(ctx, txn); err != nil {
		return err
	}
	s.record(txn)
	return nil
}

func (s *recordingStore) UpdateTransaction(ctx context.Context, txn *iap.Transaction) error {
	if err := s.Store.UpdateTransaction(ctx, txn); err != nil {
		return err
	}
	s.record(txn)
	return nil
}

func (s *recordingStore) record(txn *iap.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := s.states[txn.CorrelationID]
	if len(states) > 0 && states[len(states)-1] == txn.State {
		return
	}
	s.states[txn.CorrelationID] = append(states, txn.State)
}

func (s *recordingStore) path(correlationID string) []iap.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := make([]iap.State, len(s.states[correlationID]))
	copy(path, s.states[correlationID])
	return path
}

func (s *recordingStore) paths() map[string][]iap.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make(map[string][]iap.State, len(s.states))
	for k, v := range s.states {
		paths[k] = append([]iap.State(nil), v...)
	}
	return paths
}
