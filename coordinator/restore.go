package coordinator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/iap"
)

// RestorePurchases reports every previously completed purchase of the store
// account as a restored transaction. Restored purchases are emitted as one
// purchase-update batch and returned.
func (c *Coordinator) RestorePurchases(ctx context.Context, applicationUserName string) ([]iap.PurchaseDetails, error) {
	log := c.log.With(zap.String("application_user_name", applicationUserName))

	signals, err := c.adapter.Restore(ctx, applicationUserName)
	if err != nil {
		log.Warn("Failed to restore purchases", zap.Error(err))

		native := iap.AsError(err)
		switch native.Kind {
		case iap.KindRestoreFailed, iap.KindPlatformNotSupported:
			return nil, native
		default:
			return nil, iap.NewError(iap.KindRestoreFailed, native.Code, native.Message).WithCause(err)
		}
	}

	c.refreshProducts(ctx, signals)

	var restored []*iap.Transaction
	for i := range signals {
		sig := &signals[i]

		txn, err := c.restore(ctx, sig)
		if err != nil {
			log.Warn("Failed to restore purchase",
				zap.String("transaction_id", sig.TransactionID),
				zap.String("product_id", sig.ProductID),
				zap.Error(err),
			)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
		}
		if txn != nil {
			restored = append(restored, txn)
		}
	}

	c.emit(restored...)
	for _, txn := range restored {
		c.release(ctx, txn)
	}

	details := make([]iap.PurchaseDetails, 0, len(restored))
	for _, txn := range restored {
		details = append(details, txn.Details())
	}

	log.Debug("Restored purchases", zap.Int("count", len(details)))
	return details, nil
}

// restore walks one restored purchase through Querying, Verifying and
// Acknowledging on its own queue. Purchases already tracked are reported as
// they stand.
func (c *Coordinator) restore(ctx context.Context, sig *iap.PurchasedSignal) (*iap.Transaction, error) {
	if sig.ProductID == "" {
		return nil, iap.ErrInternal.WithMessage("restored purchase has no product")
	}

	if sig.TransactionID != "" {
		if correlationID, err := c.lookup(ctx, sig.TransactionID); err == nil {
			txn, err := c.store.GetTransaction(ctx, correlationID)
			if err != nil {
				return nil, err
			}
			return txn, nil
		}
	}

	consumable := c.isConsumable(sig.ProductID)
	txn := &iap.Transaction{
		ID:                  sig.TransactionID,
		CorrelationID:       uuid.NewString(),
		ProductID:           sig.ProductID,
		Quantity:            1,
		ApplicationUserName: sig.ApplicationUserName,
		Platform:            c.adapter.Platform(),
		State:               iap.StateIdle,
		CreatedAt:           c.clock(),
		Consumable:          consumable,
		Restored:            true,

		// A purchase finished earlier in this process must not be finished
		// twice.
		Acknowledged: sig.Acknowledged || c.isFinished(sig.TransactionID),
	}
	if err := c.store.CreateTransaction(ctx, txn); errors.Is(err, iap.ErrExists) {
		return nil, err
	} else if err != nil {
		return nil, iap.ErrInternal.WithCause(err).WithMessage("failed to track restored transaction")
	}
	c.bindNativeID(txn.ID, txn.CorrelationID)

	var result *iap.Transaction
	err := c.queue.Do(ctx, txn.CorrelationID, func(ctx context.Context) error {
		current, err := c.store.GetTransaction(ctx, txn.CorrelationID)
		if err != nil {
			return err
		}
		result = current

		if err := c.transition(ctx, current, iap.StateQuerying); err != nil {
			return err
		}
		if err := c.transition(ctx, current, iap.StateVerifying); err != nil {
			return err
		}

		if !sig.Date.IsZero() {
			current.TransactionDate = sig.Date
		}
		current.Receipt = sig.Receipt

		if sig.Verification.Mode == iap.VerificationInvalid {
			verifyErr := iap.ErrVerificationFailed
			if sig.Verification.Err != nil {
				verifyErr = verifyErr.WithCause(sig.Verification.Err).WithMessage(sig.Verification.Err.Error())
			}
			err = c.fail(ctx, current, verifyErr)
		} else if err = c.transition(ctx, current, iap.StateAcknowledging); err == nil {
			err = c.finish(ctx, current)
		}

		if iap.AsError(err).Retryable() {
			return nil
		}
		return err
	})
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	return result, err
}

// refreshProducts caches products of restored purchases that were never
// queried. Failures are ignored; restoration does not depend on them.
func (c *Coordinator) refreshProducts(ctx context.Context, signals []iap.PurchasedSignal) {
	var ids []string
	for _, sig := range signals {
		if _, ok := c.products.Get(sig.ProductID); !ok && sig.ProductID != "" {
			ids = append(ids, sig.ProductID)
		}
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return
	}

	products, err := c.adapter.QueryProducts(ctx, ids)
	if err != nil {
		c.log.Debug("Failed to refresh products of restored purchases", zap.Error(err))
		return
	}
	c.products.PutAll(products)
}
