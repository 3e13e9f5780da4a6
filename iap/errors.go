package iap

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrExists   = errors.New("transaction already exists")
	ErrNotFound = errors.New("transaction not found")

	// ErrServiceDisconnected is the transient condition adapters wrap when the
	// native service connection dropped underneath a request.
	ErrServiceDisconnected = errors.New("service disconnected")
)

// Kind is the platform-independent error vocabulary. Portable host logic
// branches on Kind, never on Error.Code.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindProductNotFound
	KindQueryFailed
	KindPurchaseCancelledByUser
	KindPurchasePending
	KindPurchaseFailed
	KindVerificationFailed
	KindAcknowledgeFailed
	KindConsumeFailed
	KindRestoreFailed
	KindPlatformNotSupported
	KindInternalError
)

var kindNames = map[Kind]string{
	KindUnknown:                 "unknown",
	KindProductNotFound:         "product_not_found",
	KindQueryFailed:             "query_failed",
	KindPurchaseCancelledByUser: "purchase_cancelled_by_user",
	KindPurchasePending:         "purchase_pending",
	KindPurchaseFailed:          "purchase_failed",
	KindVerificationFailed:      "verification_failed",
	KindAcknowledgeFailed:       "acknowledge_failed",
	KindConsumeFailed:           "consume_failed",
	KindRestoreFailed:           "restore_failed",
	KindPlatformNotSupported:    "platform_not_supported",
	KindInternalError:           "internal_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return errors.Errorf("unknown error kind: %s", text)
}

var (
	ErrProductNotFound      = &Error{Kind: KindProductNotFound}
	ErrQueryFailed          = &Error{Kind: KindQueryFailed}
	ErrPurchaseCancelled    = &Error{Kind: KindPurchaseCancelledByUser}
	ErrPurchasePending      = &Error{Kind: KindPurchasePending}
	ErrPurchaseFailed       = &Error{Kind: KindPurchaseFailed}
	ErrVerificationFailed   = &Error{Kind: KindVerificationFailed}
	ErrAcknowledgeFailed    = &Error{Kind: KindAcknowledgeFailed}
	ErrConsumeFailed        = &Error{Kind: KindConsumeFailed}
	ErrRestoreFailed        = &Error{Kind: KindRestoreFailed}
	ErrPlatformNotSupported = &Error{Kind: KindPlatformNotSupported, Message: "in-app purchases are not supported on this platform"}
	ErrInternal             = &Error{Kind: KindInternalError}
)

// Error is the normalized error carried in direct replies and purchase-update
// events.
type Error struct {
	Kind Kind

	// Code is the native, platform-scoped code. It is not comparable across
	// platforms.
	Code    int
	Message string
	Details *structpb.Struct

	cause error
}

func NewError(kind Kind, code int, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrProductNotFound)
// works regardless of code and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithCause returns a copy of the error wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cloned := e.Clone()
	cloned.cause = cause
	return cloned
}

func (e *Error) WithDetails(details map[string]any) *Error {
	cloned := e.Clone()
	s, err := structpb.NewStruct(details)
	if err == nil {
		cloned.Details = s
	}
	return cloned
}

func (e *Error) Clone() *Error {
	if e == nil {
		return nil
	}
	cloned := *e
	if e.Details != nil {
		cloned.Details = proto.Clone(e.Details).(*structpb.Struct)
	}
	return &cloned
}

// Retryable reports whether the failure left a purchased transaction
// unfinished with the native layer.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindAcknowledgeFailed || e.Kind == KindConsumeFailed
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Error())
}

func (e *Error) grpcCode() codes.Code {
	switch e.Kind {
	case KindProductNotFound:
		return codes.NotFound
	case KindQueryFailed, KindRestoreFailed:
		return codes.Unavailable
	case KindPurchaseCancelledByUser:
		return codes.Canceled
	case KindPurchasePending:
		return codes.FailedPrecondition
	case KindPurchaseFailed, KindAcknowledgeFailed, KindConsumeFailed:
		return codes.Aborted
	case KindVerificationFailed:
		return codes.PermissionDenied
	case KindPlatformNotSupported:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}

type wireError struct {
	Code    int             `json:"code"`
	Kind    Kind            `json:"kind"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	w := wireError{Code: e.Code, Kind: e.Kind, Message: e.Message}
	if e.Details != nil {
		raw, err := protojson.Marshal(e.Details)
		if err != nil {
			return nil, err
		}
		w.Details = raw
	}
	return json.Marshal(w)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Error{Kind: w.Kind, Code: w.Code, Message: w.Message}
	if len(w.Details) > 0 {
		e.Details = &structpb.Struct{}
		if err := protojson.Unmarshal(w.Details, e.Details); err != nil {
			return err
		}
	}
	return nil
}

// AsError normalizes any error into an *Error. Errors that carry no kind are
// reported as InternalError rather than dropped.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err).WithMessage(err.Error())
}

// KindOf returns the kind of err, InternalError for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	return AsError(err).Kind
}

// WithMessage returns a copy of the error with message replaced.
func (e *Error) WithMessage(message string) *Error {
	cloned := e.Clone()
	cloned.Message = message
	return cloned
}

// IsServiceDisconnected reports whether err is the transient disconnect
// condition the query retry policy acts on.
func IsServiceDisconnected(err error) bool {
	return errors.Is(err, ErrServiceDisconnected)
}
