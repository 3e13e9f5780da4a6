package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/code-payments/iap-coordinator/storekit/verified"
)

const (
	updateBufferSize = 64

	sandboxEnvironment = "Sandbox"
)

// Store is a sandbox verified store. Every transaction it reports is signed
// by its Signer.
type Store struct {
	Script

	catalog  *Catalog
	signer   *Signer
	bundleID string
	updates  chan string
	done     chan struct{}
	once     sync.Once

	mu         sync.Mutex
	disabled   bool
	nextID     int64
	unfinished map[string]*storeTransaction
	owned      map[string]*storeTransaction
	pending    []pendingPurchase
}

type storeTransaction struct {
	payload verified.SignedTransaction
	signed  string
}

type pendingPurchase struct {
	productID string
	options   verified.PurchaseOptions
}

func NewStore(catalog *Catalog, signer *Signer, bundleID string) *Store {
	return &Store{
		catalog:    catalog,
		signer:     signer,
		bundleID:   bundleID,
		updates:    make(chan string, updateBufferSize),
		done:       make(chan struct{}),
		nextID:     2000000000000000,
		unfinished: make(map[string]*storeTransaction),
		owned:      make(map[string]*storeTransaction),
	}
}

func (s *Store) SetPaymentsAllowed(allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = !allowed
}

func (s *Store) CanMakePayments() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

func (s *Store) Products(_ context.Context, ids []string) ([]*verified.Product, error) {
	if s.queryFails() {
		return nil, &verified.Error{Code: verified.ErrorCodeNetworkError, Description: "the network connection was lost"}
	}

	var products []*verified.Product
	for _, id := range ids {
		p, ok := s.catalog.Product(id)
		if !ok {
			continue
		}
		products = append(products, &verified.Product{
			ID:           p.ID,
			DisplayName:  p.Title,
			Description:  p.Description,
			Price:        p.Price.String(),
			DisplayPrice: s.catalog.FormatPrice(p.Price),
			CurrencyCode: s.catalog.Currency,
		})
	}
	return products, nil
}

func (s *Store) Purchase(ctx context.Context, productID string, options verified.PurchaseOptions) (*verified.PurchaseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &verified.Error{Code: verified.ErrorCodeSystemError, Description: err.Error()}
	}
	if _, ok := s.catalog.Product(productID); !ok {
		return nil, &verified.Error{Code: verified.ErrorCodeProductUnavailable, Description: "product is not available"}
	}

	switch s.nextOutcome() {
	case OutcomeCancel:
		return &verified.PurchaseResult{Kind: verified.PurchaseUserCancelled}, nil
	case OutcomeFail:
		return nil, &verified.Error{Code: verified.ErrorCodeSystemError, Description: "purchase failed"}
	case OutcomePending:
		s.mu.Lock()
		s.pending = append(s.pending, pendingPurchase{productID: productID, options: options})
		s.mu.Unlock()
		return &verified.PurchaseResult{Kind: verified.PurchasePending}, nil
	}

	txn, err := s.purchase(productID, options)
	if err != nil {
		return nil, &verified.Error{Code: verified.ErrorCodeSystemError, Description: err.Error()}
	}
	return &verified.PurchaseResult{Kind: verified.PurchaseSuccess, SignedTransaction: txn.signed}, nil
}

// ApprovePending completes every pending purchase and reports it on the
// update stream.
func (s *Store) ApprovePending() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var signed []string
	for _, p := range pending {
		txn, err := s.purchase(p.productID, p.options)
		if err != nil {
			return err
		}
		signed = append(signed, txn.signed)
	}

	go func() {
		for _, token := range signed {
			select {
			case s.updates <- token:
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Deliver reports an arbitrary signed transaction on the update stream.
func (s *Store) Deliver(token string) {
	select {
	case s.updates <- token:
	case <-s.done:
	}
}

func (s *Store) purchase(productID string, options verified.PurchaseOptions) (*storeTransaction, error) {
	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("%d", s.nextID)
	s.mu.Unlock()

	quantity := options.Quantity
	if quantity < 1 {
		quantity = 1
	}

	now := time.Now()
	payload := verified.SignedTransaction{
		TransactionID:         id,
		OriginalTransactionID: id,
		ProductID:             productID,
		BundleID:              s.bundleID,
		PurchaseDate:          now.UnixMilli(),
		OriginalPurchaseDate:  now.UnixMilli(),
		Quantity:              quantity,
		Type:                  s.productType(productID),
		Environment:           sandboxEnvironment,
	}
	if options.AppAccountToken != uuid.Nil {
		payload.AppAccountToken = options.AppAccountToken.String()
	}

	signed, err := s.signer.Sign(payload)
	if err != nil {
		return nil, err
	}

	txn := &storeTransaction{payload: payload, signed: signed}

	s.mu.Lock()
	s.unfinished[id] = txn
	s.mu.Unlock()
	return txn, nil
}

func (s *Store) productType(productID string) string {
	if p, ok := s.catalog.Product(productID); ok && p.Consumable {
		return "Consumable"
	}
	return "Non-Consumable"
}

func (s *Store) Updates() <-chan string {
	return s.updates
}

func (s *Store) Finish(_ context.Context, transactionID string) error {
	s.mu.Lock()
	txn, ok := s.unfinished[transactionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if s.finishFails() {
		return &verified.Error{Code: verified.ErrorCodeSystemError, Description: "finish failed"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.unfinished, transactionID)
	if txn.payload.Type != "Consumable" {
		s.owned[txn.payload.ProductID] = txn
	}
	return nil
}

func (s *Store) Sync(_ context.Context) error {
	if s.restoreFails() {
		return &verified.Error{Code: verified.ErrorCodeNetworkError, Description: "the network connection was lost"}
	}
	return nil
}

// CurrentEntitlements returns the owned non-consumables, ordered by product.
func (s *Store) CurrentEntitlements(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	productIDs := make([]string, 0, len(s.owned))
	for id := range s.owned {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	signed := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		signed = append(signed, s.owned[id].signed)
	}
	return signed, nil
}

func (s *Store) StorefrontCountryCode(_ context.Context) (string, error) {
	return s.catalog.Storefront, nil
}

// Unfinished returns the ids of transactions not yet finished.
func (s *Store) Unfinished() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.unfinished))
	for id := range s.unfinished {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}
