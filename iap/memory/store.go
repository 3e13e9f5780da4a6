package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/code-payments/iap-coordinator/iap"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	txns     map[string]*iap.Transaction
	byNative map[string]string
}

func NewInMemory() iap.Store {
	return &InMemoryStore{
		txns:     map[string]*iap.Transaction{},
		byNative: map[string]string{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txns = make(map[string]*iap.Transaction)
	s.byNative = make(map[string]string)
}

func (s *InMemoryStore) CreateTransaction(ctx context.Context, txn *iap.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txns[txn.CorrelationID]; ok {
		return iap.ErrExists
	}
	if txn.ID != "" {
		if _, ok := s.byNative[txn.ID]; ok {
			return iap.ErrExists
		}
		s.byNative[txn.ID] = txn.CorrelationID
	}

	s.txns[txn.CorrelationID] = txn.Clone()
	return nil
}

func (s *InMemoryStore) GetTransaction(ctx context.Context, correlationID string) (*iap.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.txns[correlationID]
	if !ok {
		return nil, iap.ErrNotFound
	}
	return txn.Clone(), nil
}

func (s *InMemoryStore) GetTransactionByNativeID(ctx context.Context, id string) (*iap.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	correlationID, ok := s.byNative[id]
	if !ok {
		return nil, iap.ErrNotFound
	}
	return s.txns[correlationID].Clone(), nil
}

func (s *InMemoryStore) UpdateTransaction(ctx context.Context, txn *iap.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.txns[txn.CorrelationID]
	if !ok {
		return iap.ErrNotFound
	}

	if txn.ID != existing.ID {
		if txn.ID != "" {
			if owner, ok := s.byNative[txn.ID]; ok && owner != txn.CorrelationID {
				return iap.ErrExists
			}
			s.byNative[txn.ID] = txn.CorrelationID
		}
		if existing.ID != "" {
			delete(s.byNative, existing.ID)
		}
	}

	s.txns[txn.CorrelationID] = txn.Clone()
	return nil
}

func (s *InMemoryStore) DeleteTransaction(ctx context.Context, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.txns[correlationID]
	if !ok {
		return iap.ErrNotFound
	}
	if txn.ID != "" {
		delete(s.byNative, txn.ID)
	}
	delete(s.txns, correlationID)
	return nil
}

func (s *InMemoryStore) ListTransactions(ctx context.Context) ([]*iap.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txns := make([]*iap.Transaction, 0, len(s.txns))
	for _, txn := range s.txns {
		txns = append(txns, txn.Clone())
	}
	sort.Slice(txns, func(i, j int) bool {
		if txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].CorrelationID < txns[j].CorrelationID
		}
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
	return txns, nil
}
