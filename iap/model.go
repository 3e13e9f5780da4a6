package iap

import (
	"crypto/sha256"
	"time"

	"github.com/mr-tron/base58"
)

type Platform uint8

const (
	PlatformUnknown Platform = iota
	PlatformApple
	PlatformGoogle
)

func (p Platform) String() string {
	switch p {
	case PlatformApple:
		return "apple"
	case PlatformGoogle:
		return "google"
	default:
		return "unknown"
	}
}

// Product is the last-known store metadata for a purchasable item. A Product
// is never mutated; a later query supersedes it.
type Product struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Price          string  `json:"price"`
	RawPrice       float64 `json:"rawPrice"`
	CurrencyCode   string  `json:"currencyCode"`
	CurrencySymbol string  `json:"currencySymbol"`
}

type PurchaseIntent struct {
	ProductID string
	Quantity  int

	// ApplicationUserName is an opaque, host-supplied value forwarded to the
	// native layer for fraud detection and account correlation.
	ApplicationUserName string

	Consumable  bool
	AutoConsume bool
}

// Normalize returns the intent with quantity defaults applied. Non-consumables
// are always purchased one at a time.
func (i PurchaseIntent) Normalize() PurchaseIntent {
	if !i.Consumable || i.Quantity < 1 {
		i.Quantity = 1
	}
	if !i.Consumable {
		i.AutoConsume = false
	}
	return i
}

type Transaction struct {
	// ID is assigned by the native layer and is empty until it is known.
	ID string

	// CorrelationID is generated locally when the transaction is created and
	// never changes.
	CorrelationID string

	ProductID           string
	Quantity            int
	ApplicationUserName string
	Platform            Platform
	State               State
	CreatedAt           time.Time
	TransactionDate     time.Time
	Err                 *Error

	// Receipt is the opaque verification payload: a base64 app receipt, a
	// signed transaction, or a purchase token depending on the adapter.
	Receipt string

	Consumable   bool
	AutoConsume  bool
	Acknowledged bool
	Consumed     bool
	Restored     bool

	// Attempt counts host-initiated finish retries.
	Attempt int
}

func (t *Transaction) Clone() *Transaction {
	cloned := *t
	if t.Err != nil {
		cloned.Err = t.Err.Clone()
	}
	return &cloned
}

// Status is the host-facing purchase status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPurchased Status = "purchased"
	StatusError     Status = "error"
	StatusRestored  Status = "restored"
	StatusCanceled  Status = "canceled"
)

type PurchaseVerificationData struct {
	LocalVerificationData  string `json:"localVerificationData"`
	ServerVerificationData string `json:"serverVerificationData"`
	Source                 string `json:"source"`
}

// PurchaseDetails is the summary of a Transaction delivered to the host.
type PurchaseDetails struct {
	PurchaseID              string                   `json:"purchaseId,omitempty"`
	ProductID               string                   `json:"productId"`
	PurchaseToken           string                   `json:"purchaseToken,omitempty"`
	ReceiptData             string                   `json:"receiptData,omitempty"`
	VerificationData        PurchaseVerificationData `json:"verificationData"`
	TransactionDate         string                   `json:"transactionDate,omitempty"`
	Status                  Status                   `json:"status"`
	Error                   *Error                   `json:"error,omitempty"`
	PendingCompletePurchase bool                     `json:"pendingCompletePurchase"`
	Acknowledged            bool                     `json:"acknowledged"`
}

type ProductDetailsResponse struct {
	ProductDetails []Product `json:"productDetails"`
	NotFoundIDs    []string  `json:"notFoundIds"`
	Error          *Error    `json:"error,omitempty"`
}

// PurchaseUpdate is the payload of the purchase-update event.
type PurchaseUpdate struct {
	Purchases []PurchaseDetails `json:"purchases"`
}

const PurchaseUpdateEvent = "purchase-update"

// Details summarizes the transaction for the host. Cancelled transactions never
// carry receipt material.
func (t *Transaction) Details() PurchaseDetails {
	d := PurchaseDetails{
		PurchaseID:   t.ID,
		ProductID:    t.ProductID,
		Status:       t.Status(),
		Acknowledged: t.Acknowledged,
		VerificationData: PurchaseVerificationData{
			Source: t.Platform.String(),
		},
		PendingCompletePurchase: t.State == StateAwaitingCompletion || t.Err.Retryable(),
	}
	if !t.TransactionDate.IsZero() {
		d.TransactionDate = t.TransactionDate.UTC().Format(time.RFC3339)
	}
	if t.Err != nil {
		d.Error = t.Err.Clone()
	}
	if t.State == StateCancelled || t.Receipt == "" {
		return d
	}

	switch t.Platform {
	case PlatformGoogle:
		d.PurchaseToken = t.Receipt
	default:
		d.ReceiptData = t.Receipt
	}
	d.VerificationData.LocalVerificationData = t.Receipt
	d.VerificationData.ServerVerificationData = t.Receipt
	return d
}

func (t *Transaction) Status() Status {
	switch t.State {
	case StateCompleted, StateAwaitingCompletion:
		if t.Restored {
			return StatusRestored
		}
		return StatusPurchased
	case StateCancelled:
		return StatusCanceled
	case StateFailed:
		return StatusError
	default:
		return StatusPending
	}
}

// ReceiptFingerprint returns a short, log-safe identifier for receipt material.
func ReceiptFingerprint(receipt string) string {
	if receipt == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(receipt))
	return base58.Encode(sum[:8])
}
