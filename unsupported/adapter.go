// Package unsupported provides the adapter for targets without a native
// store, such as desktop builds.
package unsupported

import (
	"context"
	"sync"

	"github.com/code-payments/iap-coordinator/iap"
)

// Adapter rejects every operation with PlatformNotSupported.
type Adapter struct {
	signals   chan iap.Signal
	closeOnce sync.Once
}

func New() *Adapter {
	return &Adapter{
		signals: make(chan iap.Signal),
	}
}

func (a *Adapter) Platform() iap.Platform {
	return iap.PlatformUnknown
}

func (a *Adapter) Initialize(_ context.Context) error {
	return iap.ErrPlatformNotSupported
}

func (a *Adapter) IsAvailable(_ context.Context) (bool, error) {
	return false, iap.ErrPlatformNotSupported
}

func (a *Adapter) QueryProducts(_ context.Context, _ []string) ([]iap.Product, error) {
	return nil, iap.ErrPlatformNotSupported
}

func (a *Adapter) Purchase(_ context.Context, _ iap.PurchaseIntent, _ string) error {
	return iap.ErrPlatformNotSupported
}

func (a *Adapter) Finish(_ context.Context, _ *iap.Transaction, _ iap.FinishMode) error {
	return iap.ErrPlatformNotSupported
}

func (a *Adapter) Restore(_ context.Context, _ string) ([]iap.PurchasedSignal, error) {
	return nil, iap.ErrPlatformNotSupported
}

func (a *Adapter) ReceiptData(_ context.Context, _ *iap.Transaction) (string, error) {
	return "", iap.ErrPlatformNotSupported
}

func (a *Adapter) CountryCode(_ context.Context) (string, error) {
	return "", iap.ErrPlatformNotSupported
}

func (a *Adapter) Reconnect(_ context.Context) error {
	return iap.ErrPlatformNotSupported
}

// Signals never delivers; the channel is closed by Close.
func (a *Adapter) Signals() <-chan iap.Signal {
	return a.signals
}

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.signals)
	})
	return nil
}
