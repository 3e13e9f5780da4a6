package coordinator

import (
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/event"
	"github.com/code-payments/iap-coordinator/iap"
)

type Option func(*Options)

type Options struct {
	Log   *zap.Logger
	Store iap.Store

	Emitter            *event.PurchaseEmitter
	EventBufferSize    int
	EventNotifyTimeout time.Duration

	// FinishedTTL bounds how long a finished native id is remembered so that a
	// redelivery of it is ignored.
	FinishedTTL    time.Duration
	CountryCodeTTL time.Duration

	// ConsumableProducts seeds the consumability of products for purchases the
	// coordinator did not initiate, e.g. an approved deferred purchase that
	// arrives after a restart.
	ConsumableProducts []string

	Clock func() time.Time
}

func WithLogger(log *zap.Logger) Option {
	return func(o *Options) {
		if log != nil {
			o.Log = log
		}
	}
}

func WithStore(store iap.Store) Option {
	return func(o *Options) {
		o.Store = store
	}
}

func WithEmitter(emitter *event.PurchaseEmitter) Option {
	return func(o *Options) {
		o.Emitter = emitter
	}
}

func WithEventStream(bufferSize int, notifyTimeout time.Duration) Option {
	return func(o *Options) {
		if bufferSize > 0 {
			o.EventBufferSize = bufferSize
		}
		if notifyTimeout > 0 {
			o.EventNotifyTimeout = notifyTimeout
		}
	}
}

func WithFinishedTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.FinishedTTL = ttl
		}
	}
}

func WithCountryCodeTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.CountryCodeTTL = ttl
		}
	}
}

func WithConsumableProducts(ids ...string) Option {
	return func(o *Options) {
		o.ConsumableProducts = append(o.ConsumableProducts, ids...)
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
	}
}

func DefaultOptions() Options {
	return Options{
		Log:                zap.NewNop(),
		EventBufferSize:    64,
		EventNotifyTimeout: time.Second,
		FinishedTTL:        24 * time.Hour,
		CountryCodeTTL:     time.Hour,
		Clock:              time.Now,
	}
}

func ApplyOptions(options ...Option) Options {
	applied := DefaultOptions()
	for _, option := range options {
		option(&applied)
	}
	return applied
}
