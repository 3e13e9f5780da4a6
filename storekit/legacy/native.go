package legacy

import (
	"context"
	"time"
)

// PaymentQueue is the delegate-based native payment queue. Implementations
// deliver Observer callbacks from their own callback queue.
type PaymentQueue interface {
	CanMakePayments() bool

	AddObserver(o Observer)
	RemoveObserver(o Observer)

	// RequestProducts resolves product identifiers. Identifiers the store does
	// not know are returned as invalid.
	RequestProducts(ctx context.Context, ids []string) (products []*Product, invalid []string, err error)

	AddPayment(p *Payment) error
	FinishTransaction(t *PaymentTransaction) error
	RestoreCompletedTransactions(applicationUsername string)

	// AppStoreReceipt returns the raw app receipt, if the device has one.
	AppStoreReceipt() ([]byte, error)

	// StorefrontCountryCode returns the alpha-3 code of the current storefront.
	StorefrontCountryCode() (string, error)
}

type Observer interface {
	UpdatedTransactions(txns []*PaymentTransaction)
	RestoreCompleted()
	RestoreFailed(err *Error)
}

type Product struct {
	ProductIdentifier    string
	LocalizedTitle       string
	LocalizedDescription string

	// Price is the decimal price in the storefront currency, e.g. "4.99".
	Price          string
	FormattedPrice string
	CurrencyCode   string
	CurrencySymbol string
}

type Payment struct {
	ProductIdentifier   string
	Quantity            int
	ApplicationUsername string
}

type TransactionState int

const (
	TransactionStatePurchasing TransactionState = iota
	TransactionStatePurchased
	TransactionStateFailed
	TransactionStateRestored
	TransactionStateDeferred
)

type PaymentTransaction struct {
	Identifier string
	Payment    *Payment
	State      TransactionState
	Date       time.Time
	Error      *Error

	// Original is set for restored transactions.
	Original *PaymentTransaction
}

// Error is a native payment error in the store kit error domain.
type Error struct {
	Code        int
	Description string
}

func (e *Error) Error() string {
	return e.Description
}

const (
	ErrorCodeUnknown                = 0
	ErrorCodeClientInvalid          = 1
	ErrorCodePaymentCancelled       = 2
	ErrorCodePaymentInvalid         = 3
	ErrorCodePaymentNotAllowed      = 4
	ErrorCodeProductNotAvailable    = 5
	ErrorCodeNetworkConnectionError = 7
)
