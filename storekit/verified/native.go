package verified

import (
	"context"

	"github.com/google/uuid"
)

// Store is the async store API whose transactions arrive as signed JWS.
type Store interface {
	CanMakePayments() bool

	Products(ctx context.Context, ids []string) ([]*Product, error)

	// Purchase presents the purchase sheet and blocks until the user decides.
	Purchase(ctx context.Context, productID string, options PurchaseOptions) (*PurchaseResult, error)

	// Updates streams transactions that complete outside a Purchase call, such
	// as approved deferred purchases and transactions left unfinished by a
	// previous launch.
	Updates() <-chan string

	Finish(ctx context.Context, transactionID string) error

	// Sync forces the device to sync transactions with the store.
	Sync(ctx context.Context) error

	// CurrentEntitlements returns the signed transactions the user is entitled
	// to.
	CurrentEntitlements(ctx context.Context) ([]string, error)

	StorefrontCountryCode(ctx context.Context) (string, error)
}

type Product struct {
	ID           string
	DisplayName  string
	Description  string
	Price        string
	DisplayPrice string
	CurrencyCode string
}

type PurchaseOptions struct {
	Quantity int

	// AppAccountToken is returned unchanged in the signed transaction.
	AppAccountToken uuid.UUID
}

type PurchaseResultKind int

const (
	PurchaseSuccess PurchaseResultKind = iota
	PurchaseUserCancelled
	PurchasePending
)

type PurchaseResult struct {
	Kind PurchaseResultKind

	// SignedTransaction is set for PurchaseSuccess.
	SignedTransaction string
}

// Error is a native store error.
type Error struct {
	Code        int
	Description string
}

func (e *Error) Error() string {
	return e.Description
}

const (
	ErrorCodeUnknown = iota
	ErrorCodeUserCancelled
	ErrorCodeNetworkError
	ErrorCodeSystemError
	ErrorCodeNotAvailableInStorefront
	ErrorCodeNotEntitled
	ErrorCodeProductUnavailable
	ErrorCodePurchaseNotAllowed
	ErrorCodeInvalidQuantity
)
