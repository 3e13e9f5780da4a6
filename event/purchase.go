package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/iap"
)

type PurchaseUpdateStream = ChannelStream[iap.PurchaseUpdate, iap.PurchaseUpdate]

// PurchaseEmitter publishes purchase-update batches to in-process handlers and
// channel subscribers. Delivery is at-most-once: a subscriber whose buffer
// stays full past the notify timeout is dropped, nothing is replayed.
type PurchaseEmitter struct {
	log *zap.Logger
	bus *Bus[string, iap.PurchaseUpdate]

	bufferSize    int
	notifyTimeout time.Duration

	streamsMu sync.Mutex
	streams   map[string]subscription
}

type subscription struct {
	stream *PurchaseUpdateStream
	remove func()
}

func NewPurchaseEmitter(log *zap.Logger, bufferSize int, notifyTimeout time.Duration) *PurchaseEmitter {
	return &PurchaseEmitter{
		log:           log,
		bus:           NewBus[string, iap.PurchaseUpdate](),
		bufferSize:    bufferSize,
		notifyTimeout: notifyTimeout,
		streams:       make(map[string]subscription),
	}
}

func (e *PurchaseEmitter) Emit(update iap.PurchaseUpdate) {
	if len(update.Purchases) == 0 {
		return
	}
	_ = e.bus.OnEvent(iap.PurchaseUpdateEvent, update)
}

func (e *PurchaseEmitter) AddHandler(h Handler[string, iap.PurchaseUpdate]) (remove func()) {
	return e.bus.AddHandler(h)
}

// Subscribe opens a buffered stream of purchase-update batches. Closing the
// returned stream does not unregister it; call Unsubscribe.
func (e *PurchaseEmitter) Subscribe() *PurchaseUpdateStream {
	stream := NewChannelStream[iap.PurchaseUpdate, iap.PurchaseUpdate](
		uuid.NewString(),
		e.bufferSize,
		func(update iap.PurchaseUpdate) (iap.PurchaseUpdate, bool) {
			return update, true
		},
	)

	log := e.log.With(zap.String("stream_id", stream.ID()))

	// Hold the lock across registration so a failing notify can't look up the
	// stream before it is recorded.
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()

	remove := e.bus.AddHandler(HandlerFunc[string, iap.PurchaseUpdate](func(_ string, update iap.PurchaseUpdate) {
		if err := stream.Notify(update, e.notifyTimeout); err != nil {
			log.Warn("Dropping purchase-update stream", zap.Error(err))
			e.Unsubscribe(stream)
		}
	}))
	e.streams[stream.ID()] = subscription{stream: stream, remove: remove}

	log.Debug("Opened purchase-update stream")
	return stream
}

func (e *PurchaseEmitter) Unsubscribe(stream *PurchaseUpdateStream) {
	e.streamsMu.Lock()
	sub, ok := e.streams[stream.ID()]
	delete(e.streams, stream.ID())
	e.streamsMu.Unlock()

	if ok {
		sub.remove()
	}
	stream.Close()
}

// Close drops and closes every subscriber stream.
func (e *PurchaseEmitter) Close() {
	e.streamsMu.Lock()
	subs := e.streams
	e.streams = make(map[string]subscription)
	e.streamsMu.Unlock()

	for _, sub := range subs {
		sub.remove()
		sub.stream.Close()
	}
}
