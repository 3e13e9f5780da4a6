package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/iap"
)

// transition moves txn to the next lifecycle state and journals it. Invalid
// edges are rejected without touching txn.
func (c *Coordinator) transition(ctx context.Context, txn *iap.Transaction, to iap.State) error {
	if !iap.CanTransition(txn.State, to) {
		return iap.ErrInternal.WithMessage("invalid transition from " + txn.State.String() + " to " + to.String())
	}

	from := txn.State
	txn.State = to
	if to != iap.StateFailed && to != iap.StateCancelled {
		txn.Err = nil
	}

	if err := c.store.UpdateTransaction(ctx, txn); err != nil {
		txn.State = from
		return iap.ErrInternal.WithCause(err).WithMessage("failed to journal transaction")
	}

	c.log.Debug("Transaction transitioned",
		zap.String("correlation_id", txn.CorrelationID),
		zap.String("transaction_id", txn.ID),
		zap.String("product_id", txn.ProductID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	return nil
}

// fail moves txn to Failed carrying err.
func (c *Coordinator) fail(ctx context.Context, txn *iap.Transaction, err *iap.Error) error {
	previous := txn.Err
	txn.Err = err
	if transitionErr := c.transition(ctx, txn, iap.StateFailed); transitionErr != nil {
		txn.Err = previous
		return transitionErr
	}
	return nil
}

// settle emits txn if its state is reported and drops it from the active set
// once nothing more can happen to it.
func (c *Coordinator) settle(ctx context.Context, txn *iap.Transaction) {
	c.emit(txn)
	c.release(ctx, txn)
}

func (c *Coordinator) release(ctx context.Context, txn *iap.Transaction) {
	if !txn.State.IsTerminal() || txn.CanRetryFinish() {
		return
	}

	// Tombstone first so the dispatcher never sees the native id unowned.
	c.finished.Set(txn.CorrelationID, txn.CorrelationID)
	if txn.ID != "" {
		c.finished.Set(txn.ID, txn.CorrelationID)
	}

	if err := c.store.DeleteTransaction(ctx, txn.CorrelationID); err != nil && err != iap.ErrNotFound {
		c.log.Warn("Failed to remove finished transaction",
			zap.String("correlation_id", txn.CorrelationID),
			zap.Error(err),
		)
	}

	c.mu.Lock()
	if txn.ID != "" {
		delete(c.nativeIDs, txn.ID)
	}
	delete(c.emitted, txn.CorrelationID)
	c.mu.Unlock()
}

// emit publishes one purchase-update batch with every txn whose current state
// has not yet been reported.
func (c *Coordinator) emit(txns ...*iap.Transaction) {
	var update iap.PurchaseUpdate

	c.mu.Lock()
	for _, txn := range txns {
		if !txn.State.IsReported() {
			continue
		}

		key := emission{state: txn.State, attempt: txn.Attempt}
		seen, ok := c.emitted[txn.CorrelationID]
		if !ok {
			seen = make(map[emission]struct{})
			c.emitted[txn.CorrelationID] = seen
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		update.Purchases = append(update.Purchases, txn.Details())
	}
	c.mu.Unlock()

	if len(update.Purchases) == 0 {
		return
	}

	for _, details := range update.Purchases {
		c.log.Debug("Emitting purchase update",
			zap.String("transaction_id", details.PurchaseID),
			zap.String("product_id", details.ProductID),
			zap.String("status", string(details.Status)),
			zap.String("receipt", iap.ReceiptFingerprint(details.ReceiptData+details.PurchaseToken)),
		)
	}
	c.emitter.Emit(update)
}

// finish runs the acknowledge and consume steps for a transaction in
// Acknowledging. Consumption never starts before acknowledgment succeeded.
func (c *Coordinator) finish(ctx context.Context, txn *iap.Transaction) error {
	log := c.log.With(
		zap.String("correlation_id", txn.CorrelationID),
		zap.String("transaction_id", txn.ID),
		zap.String("product_id", txn.ProductID),
	)

	if !txn.Acknowledged {
		if err := c.adapter.Finish(ctx, txn, iap.FinishAcknowledge); err != nil {
			log.Warn("Failed to acknowledge transaction", zap.Error(err))
			return c.failFinish(ctx, txn, iap.KindAcknowledgeFailed, err)
		}
		txn.Acknowledged = true
	}

	// Restored consumables were never consumed, or the native layer would
	// not report them.
	switch {
	case !txn.Consumable:
		return c.transition(ctx, txn, iap.StateCompleted)
	case !txn.AutoConsume:
		return c.transition(ctx, txn, iap.StateAwaitingCompletion)
	}

	if err := c.transition(ctx, txn, iap.StateConsuming); err != nil {
		return err
	}
	return c.consume(ctx, txn)
}

// consume runs the consume step for a transaction in Consuming.
func (c *Coordinator) consume(ctx context.Context, txn *iap.Transaction) error {
	if err := c.adapter.Finish(ctx, txn, iap.FinishConsume); err != nil {
		c.log.Warn("Failed to consume transaction",
			zap.String("correlation_id", txn.CorrelationID),
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
		return c.failFinish(ctx, txn, iap.KindConsumeFailed, err)
	}

	txn.Consumed = true
	txn.Acknowledged = false
	return c.transition(ctx, txn, iap.StateCompleted)
}

func (c *Coordinator) failFinish(ctx context.Context, txn *iap.Transaction, kind iap.Kind, cause error) error {
	native := iap.AsError(cause)
	err := iap.NewError(kind, native.Code, native.Message).WithCause(cause)
	if native.Details != nil {
		err.Details = native.Details
	}

	if transitionErr := c.fail(ctx, txn, err); transitionErr != nil {
		return transitionErr
	}
	return err
}

// resume restarts the finish of a journaled transaction interrupted by a
// process exit. On adapters that replay unfinished transactions the replayed
// purchase resumes it instead, see applyPurchased.
func (c *Coordinator) resume(txn *iap.Transaction) {
	if r, ok := c.adapter.(iap.Redeliverer); ok && r.RedeliversUnfinished() {
		c.log.Debug("Waiting for native replay to resume transaction",
			zap.String("correlation_id", txn.CorrelationID),
			zap.String("transaction_id", txn.ID),
		)
		return
	}

	correlationID := txn.CorrelationID
	c.queue.Submit(correlationID, func(ctx context.Context) {
		txn, err := c.store.GetTransaction(ctx, correlationID)
		if err != nil {
			return
		}
		if !isInterrupted(txn) {
			return
		}

		if err := c.resumeFinish(ctx, txn); err != nil {
			c.log.Warn("Failed to resume transaction", zap.String("correlation_id", correlationID), zap.Error(err))
		}
		c.settle(ctx, txn)
	})
}

// resumeFinish re-runs the interrupted finish step of txn.
func (c *Coordinator) resumeFinish(ctx context.Context, txn *iap.Transaction) error {
	if txn.State == iap.StateConsuming {
		return c.consume(ctx, txn)
	}
	return c.finish(ctx, txn)
}

func isInterrupted(txn *iap.Transaction) bool {
	return txn.State == iap.StateAcknowledging || txn.State == iap.StateConsuming
}
