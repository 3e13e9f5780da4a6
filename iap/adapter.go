package iap

import "context"

type FinishMode uint8

const (
	FinishAcknowledge FinishMode = iota + 1
	FinishConsume
)

func (m FinishMode) String() string {
	switch m {
	case FinishAcknowledge:
		return "acknowledge"
	case FinishConsume:
		return "consume"
	default:
		return "unknown"
	}
}

// Adapter binds one native store API generation to the coordinator. All
// errors returned by an Adapter are *Error values with the native code already
// mapped to a Kind.
type Adapter interface {
	Platform() Platform

	// Initialize prepares the native layer and starts delivering Signals.
	Initialize(ctx context.Context) error

	IsAvailable(ctx context.Context) (bool, error)

	// QueryProducts issues one batched native query for ids. Ids the store does
	// not know are omitted from the result.
	QueryProducts(ctx context.Context, ids []string) ([]Product, error)

	// Purchase submits the intent and returns once the native layer accepted
	// it. The outcome arrives later as a Signal carrying correlationID.
	Purchase(ctx context.Context, intent PurchaseIntent, correlationID string) error

	// Finish acknowledges or consumes txn with the native layer. Adapters drop
	// any native handle for txn once Finish succeeds.
	Finish(ctx context.Context, txn *Transaction, mode FinishMode) error

	// Restore returns the previously completed purchases, already normalized.
	Restore(ctx context.Context, applicationUserName string) ([]PurchasedSignal, error)

	// ReceiptData returns the opaque receipt material for txn, unmodified.
	ReceiptData(ctx context.Context, txn *Transaction) (string, error)

	CountryCode(ctx context.Context) (string, error)

	// Reconnect re-establishes the native service connection. Concurrent calls
	// share one attempt.
	Reconnect(ctx context.Context) error

	Signals() <-chan Signal

	Close() error
}

// Redeliverer is implemented by adapters whose native layer replays every
// unfinished transaction once the observer is registered, and which can only
// finish a transaction through the replayed native handle. A journaled finish
// interrupted by a restart is resumed when the replay arrives.
type Redeliverer interface {
	RedeliversUnfinished() bool
}
