package iap

import "time"

// Signal is a normalized native notification. Adapters translate delegate
// callbacks, verified update streams and billing listener calls into one of
// the concrete signal types below and post them on their Signals channel; no
// native representation crosses into the coordinator. Adapters post pointers
// to the concrete types.
type Signal interface {
	Ref() SignalRef
}

// SignalRef identifies the transaction a signal belongs to. CorrelationID is
// set when the adapter could match the native update to a purchase it
// submitted; TransactionID once the native layer assigned one.
type SignalRef struct {
	CorrelationID string
	TransactionID string
	ProductID     string
}

func (r SignalRef) Ref() SignalRef {
	return r
}

type VerificationMode uint8

const (
	// VerificationNotApplicable marks generations with no on-device
	// cryptographic check. The coordinator passes these through unchanged.
	VerificationNotApplicable VerificationMode = iota
	VerificationVerified
	VerificationInvalid
)

type Verification struct {
	Mode VerificationMode
	Err  error
}

type PurchasedSignal struct {
	SignalRef

	Quantity            int
	Date                time.Time
	Receipt             string
	ApplicationUserName string
	Verification        Verification

	// Acknowledged is set when the native layer already reports the purchase
	// as acknowledged, e.g. a restored billing purchase.
	Acknowledged bool
	Restored     bool
}

// PendingSignal reports a purchase waiting on external action such as
// parental approval.
type PendingSignal struct {
	SignalRef
}

type CancelledSignal struct {
	SignalRef
}

type FailedSignal struct {
	SignalRef

	Err *Error
}
