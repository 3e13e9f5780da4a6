package play

import "context"

// BillingClient is the listener-based billing client. Listener calls arrive
// on the client's own goroutines.
type BillingClient interface {
	// StartConnection begins connecting to the billing service. The outcome
	// is reported to the listener.
	StartConnection(listener StateListener)
	EndConnection()
	IsReady() bool

	QueryProductDetails(ctx context.Context, ids []string) (BillingResult, []ProductDetails)

	// LaunchBillingFlow opens the purchase flow. Its outcome is delivered to
	// the PurchasesUpdatedListener.
	LaunchBillingFlow(ctx context.Context, params FlowParams) BillingResult

	Acknowledge(ctx context.Context, purchaseToken string) BillingResult
	Consume(ctx context.Context, purchaseToken string) BillingResult

	QueryPurchases(ctx context.Context) (BillingResult, []Purchase)

	// BillingConfig returns the alpha-2 country code of the user's account.
	BillingConfig(ctx context.Context) (BillingResult, string)

	SetPurchasesUpdatedListener(listener PurchasesUpdatedListener)
}

type StateListener interface {
	OnBillingSetupFinished(result BillingResult)
	OnBillingServiceDisconnected()
}

type PurchasesUpdatedListener interface {
	OnPurchasesUpdated(result BillingResult, purchases []Purchase)
}

type BillingResult struct {
	ResponseCode int
	DebugMessage string
}

func (r BillingResult) OK() bool {
	return r.ResponseCode == ResponseOK
}

const (
	ResponseServiceTimeout      = -3
	ResponseFeatureNotSupported = -2
	ResponseServiceDisconnected = -1
	ResponseOK                  = 0
	ResponseUserCanceled        = 1
	ResponseServiceUnavailable  = 2
	ResponseBillingUnavailable  = 3
	ResponseItemUnavailable     = 4
	ResponseDeveloperError      = 5
	ResponseError               = 6
	ResponseItemAlreadyOwned    = 7
	ResponseItemNotOwned        = 8
	ResponseNetworkError        = 12
)

type PurchaseState int

const (
	PurchaseStateUnspecified PurchaseState = iota
	PurchaseStatePurchased
	PurchaseStatePending
)

type Purchase struct {
	// OrderID is empty while the purchase is pending.
	OrderID       string
	PurchaseToken string
	Products      []string
	Quantity      int
	PurchaseState PurchaseState

	// PurchaseTime is in milliseconds since the epoch.
	PurchaseTime int64
	Acknowledged bool

	ObfuscatedAccountID string
	ObfuscatedProfileID string

	OriginalJSON string
	Signature    string
}

type ProductDetails struct {
	ProductID   string
	Title       string
	Name        string
	Description string

	OneTimePurchaseOfferDetails *OneTimePurchaseOfferDetails
}

type OneTimePurchaseOfferDetails struct {
	FormattedPrice    string
	PriceAmountMicros int64
	PriceCurrencyCode string
}

type FlowParams struct {
	ProductID           string
	Quantity            int
	ObfuscatedAccountID string
	ObfuscatedProfileID string
}
