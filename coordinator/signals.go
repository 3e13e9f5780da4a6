package coordinator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/iap"
)

// dispatch is the single reader of the adapter's signals. It resolves each
// signal to the transaction it belongs to and hands it to that transaction's
// queue, so signals for one transaction apply in arrival order.
func (c *Coordinator) dispatch() {
	defer close(c.dispatcher)

	signals := c.adapter.Signals()
	for {
		select {
		case <-c.ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				c.log.Debug("Native signal channel closed")
				return
			}

			correlationID, ok := c.resolve(c.ctx, sig)
			if !ok {
				continue
			}

			c.queue.Submit(correlationID, func(ctx context.Context) {
				c.apply(ctx, correlationID, sig)
			})
		}
	}
}

// resolve maps a signal to a correlation id, creating a transaction for
// purchases the coordinator did not initiate.
func (c *Coordinator) resolve(ctx context.Context, sig iap.Signal) (string, bool) {
	ref := sig.Ref()
	log := c.log.With(
		zap.String("correlation_id", ref.CorrelationID),
		zap.String("transaction_id", ref.TransactionID),
		zap.String("product_id", ref.ProductID),
	)

	if c.isFinished(ref.TransactionID) {
		log.Debug("Ignoring redelivered update for finished transaction")
		return "", false
	}

	if ref.CorrelationID != "" {
		if _, err := c.store.GetTransaction(ctx, ref.CorrelationID); err == nil {
			c.bindNativeID(ref.TransactionID, ref.CorrelationID)
			return ref.CorrelationID, true
		}
	}

	if ref.TransactionID != "" {
		if correlationID, ok := c.correlationForNativeID(ref.TransactionID); ok {
			return correlationID, true
		}
		if txn, err := c.store.GetTransactionByNativeID(ctx, ref.TransactionID); err == nil {
			c.bindNativeID(ref.TransactionID, txn.CorrelationID)
			return txn.CorrelationID, true
		}
	}

	switch sig.(type) {
	case *iap.PurchasedSignal, *iap.PendingSignal:
	default:
		log.Warn("Dropping update for unknown transaction")
		return "", false
	}

	if ref.ProductID == "" {
		log.Warn("Dropping unsolicited update without a product")
		return "", false
	}

	// Purchases started outside this process, e.g. an approved deferred
	// purchase or one interrupted by a restart.
	consumable := c.isConsumable(ref.ProductID)
	txn := &iap.Transaction{
		ID:            ref.TransactionID,
		CorrelationID: uuid.NewString(),
		ProductID:     ref.ProductID,
		Quantity:      1,
		Platform:      c.adapter.Platform(),
		State:         iap.StatePurchasing,
		CreatedAt:     c.clock(),
		Consumable:    consumable,
		AutoConsume:   consumable,
	}
	if purchased, ok := sig.(*iap.PurchasedSignal); ok {
		txn.ApplicationUserName = purchased.ApplicationUserName
		txn.Restored = purchased.Restored
	}

	if err := c.store.CreateTransaction(ctx, txn); err != nil {
		log.Warn("Failed to track unsolicited transaction", zap.Error(err))
		return "", false
	}
	c.bindNativeID(txn.ID, txn.CorrelationID)

	log.Debug("Tracking unsolicited transaction", zap.String("assigned_correlation_id", txn.CorrelationID))
	return txn.CorrelationID, true
}

func (c *Coordinator) apply(ctx context.Context, correlationID string, sig iap.Signal) {
	log := c.log.With(
		zap.String("correlation_id", correlationID),
		zap.String("transaction_id", sig.Ref().TransactionID),
	)

	txn, err := c.store.GetTransaction(ctx, correlationID)
	if errors.Is(err, iap.ErrNotFound) {
		log.Debug("Ignoring update for released transaction")
		return
	} else if err != nil {
		log.Warn("Failed to load transaction", zap.Error(err))
		return
	}

	if ref := sig.Ref(); txn.ID == "" && ref.TransactionID != "" {
		txn.ID = ref.TransactionID
	}

	switch s := sig.(type) {
	case *iap.PurchasedSignal:
		err = c.applyPurchased(ctx, txn, s)
	case *iap.PendingSignal:
		err = c.applyTerminalOrPending(ctx, txn, iap.StatePending, nil)
	case *iap.CancelledSignal:
		err = c.applyTerminalOrPending(ctx, txn, iap.StateCancelled, iap.ErrPurchaseCancelled)
	case *iap.FailedSignal:
		failure := s.Err
		if failure == nil {
			failure = iap.ErrPurchaseFailed
		}
		err = c.applyTerminalOrPending(ctx, txn, iap.StateFailed, failure)
	default:
		err = iap.ErrInternal.WithMessage("unknown native signal")
	}

	if errors.Is(err, errDuplicate) {
		log.Debug("Suppressed duplicate native update", zap.String("state", txn.State.String()))
		return
	}
	if err != nil {
		log.Warn("Failed to apply native update", zap.Error(err))
		if iap.KindOf(err) == iap.KindInternalError && !txn.State.IsTerminal() {
			if failErr := c.fail(ctx, txn, iap.AsError(err)); failErr != nil {
				log.Warn("Failed to record internal failure", zap.Error(failErr))
			}
		}
	}
	c.settle(ctx, txn)
}

var errDuplicate = errors.New("duplicate native update")

func (c *Coordinator) applyPurchased(ctx context.Context, txn *iap.Transaction, sig *iap.PurchasedSignal) error {
	switch txn.State {
	case iap.StatePurchasing, iap.StatePending:
		if err := c.transition(ctx, txn, iap.StateVerifying); err != nil {
			return err
		}
	case iap.StateVerifying:
		// Journaled before a restart; the redelivery completes verification.
	case iap.StateAcknowledging, iap.StateConsuming:
		// Finish interrupted by a restart; the native layer replayed it.
		err := c.resumeFinish(ctx, txn)
		if err != nil && iap.AsError(err).Retryable() {
			return nil
		}
		return err
	default:
		return errDuplicate
	}

	if sig.Quantity > 0 {
		txn.Quantity = sig.Quantity
	}
	if !sig.Date.IsZero() {
		txn.TransactionDate = sig.Date
	}
	if txn.ApplicationUserName == "" {
		txn.ApplicationUserName = sig.ApplicationUserName
	}
	txn.Receipt = sig.Receipt
	txn.Restored = txn.Restored || sig.Restored
	txn.Acknowledged = txn.Acknowledged || sig.Acknowledged

	if sig.Verification.Mode == iap.VerificationInvalid {
		verifyErr := iap.ErrVerificationFailed
		if sig.Verification.Err != nil {
			verifyErr = verifyErr.WithCause(sig.Verification.Err).WithMessage(sig.Verification.Err.Error())
		}
		return c.fail(ctx, txn, verifyErr)
	}

	if err := c.transition(ctx, txn, iap.StateAcknowledging); err != nil {
		return err
	}

	// Finish failures are recorded on txn and reported through its state.
	err := c.finish(ctx, txn)
	if err != nil && iap.AsError(err).Retryable() {
		return nil
	}
	return err
}

func (c *Coordinator) applyTerminalOrPending(ctx context.Context, txn *iap.Transaction, to iap.State, failure *iap.Error) error {
	if !iap.CanTransition(txn.State, to) {
		return errDuplicate
	}

	// A failure after the purchase went through belongs to the finish path.
	if txn.State != iap.StatePurchasing && txn.State != iap.StatePending {
		return errDuplicate
	}

	if to == iap.StatePending {
		return c.transition(ctx, txn, iap.StatePending)
	}

	previous := txn.Err
	txn.Err = failure
	if err := c.transition(ctx, txn, to); err != nil {
		txn.Err = previous
		return err
	}
	return nil
}
