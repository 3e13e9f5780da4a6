package play

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/code-payments/iap-coordinator/iap"
)

const connectKey = "connect"

// connection owns the process-wide billing service connection. Concurrent
// connects share one attempt.
type connection struct {
	log    *zap.Logger
	client BillingClient
	group  singleflight.Group

	mu        sync.Mutex
	connected bool
}

func newConnection(log *zap.Logger, client BillingClient) *connection {
	return &connection{
		log:    log,
		client: client,
	}
}

func (c *connection) isConnected() bool {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	return connected && c.client.IsReady()
}

func (c *connection) setConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

// ensure connects if the client is not connected. Failures are reported as
// kind.
func (c *connection) ensure(ctx context.Context, kind iap.Kind) error {
	if c.isConnected() {
		return nil
	}
	return c.connect(ctx, kind)
}

// reconnect connects again after a call reported the service disconnected.
// Callers that lost the race to a reconnect already in progress share it.
func (c *connection) reconnect(ctx context.Context, kind iap.Kind) error {
	if c.isConnected() {
		return nil
	}
	c.log.Debug("Reconnecting to billing service")
	return c.connect(ctx, kind)
}

func (c *connection) connect(ctx context.Context, kind iap.Kind) error {
	v, err, shared := c.group.Do(connectKey, func() (interface{}, error) {
		if c.isConnected() {
			return BillingResult{ResponseCode: ResponseOK}, nil
		}
		return c.start(ctx)
	})
	if err != nil {
		return iap.NewError(kind, ResponseServiceDisconnected, "billing connection interrupted").WithCause(err)
	}

	result := v.(BillingResult)
	if !result.OK() {
		c.log.Warn("Failed to connect to billing service",
			zap.String("response_code", responseName(result.ResponseCode)),
			zap.String("debug_message", result.DebugMessage),
			zap.Bool("shared", shared),
		)
		return toError(kind, result)
	}
	return nil
}

func (c *connection) start(ctx context.Context) (BillingResult, error) {
	setup := make(chan BillingResult, 1)
	c.client.StartConnection(&stateListener{conn: c, setup: setup})

	select {
	case result := <-setup:
		if result.OK() {
			c.setConnected(true)
			c.log.Debug("Connected to billing service")
		}
		return result, nil
	case <-ctx.Done():
		return BillingResult{}, ctx.Err()
	}
}

type stateListener struct {
	conn  *connection
	setup chan BillingResult
}

func (l *stateListener) OnBillingSetupFinished(result BillingResult) {
	select {
	case l.setup <- result:
	default:
	}
}

func (l *stateListener) OnBillingServiceDisconnected() {
	l.conn.log.Debug("Billing service disconnected")
	l.conn.setConnected(false)
}
