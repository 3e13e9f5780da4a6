package iap

import "context"

// Store holds the active transaction set. Implementations enforce that no two
// transactions share a correlation id or a native id.
type Store interface {
	CreateTransaction(ctx context.Context, txn *Transaction) error
	GetTransaction(ctx context.Context, correlationID string) (*Transaction, error)
	GetTransactionByNativeID(ctx context.Context, id string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, txn *Transaction) error
	DeleteTransaction(ctx context.Context, correlationID string) error
	ListTransactions(ctx context.Context) ([]*Transaction, error)
}
