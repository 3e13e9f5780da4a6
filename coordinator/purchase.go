package coordinator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/iap"
)

// PurchaseParam is a host purchase request.
type PurchaseParam struct {
	ProductID string

	// Quantity applies to consumables only.
	Quantity int

	ApplicationUserName string
}

// BuyNonConsumable submits a purchase of a cached non-consumable product and
// returns its correlation id once the native layer accepted the request. The
// outcome arrives on the purchase-update stream.
func (c *Coordinator) BuyNonConsumable(ctx context.Context, param PurchaseParam) (string, error) {
	return c.buy(ctx, iap.PurchaseIntent{
		ProductID:           param.ProductID,
		Quantity:            1,
		ApplicationUserName: param.ApplicationUserName,
	})
}

// BuyConsumable is BuyNonConsumable for consumables. With autoConsume the
// purchase is acknowledged and consumed without host involvement; otherwise it
// waits in AwaitingCompletion for CompletePurchase.
func (c *Coordinator) BuyConsumable(ctx context.Context, param PurchaseParam, autoConsume bool) (string, error) {
	return c.buy(ctx, iap.PurchaseIntent{
		ProductID:           param.ProductID,
		Quantity:            param.Quantity,
		ApplicationUserName: param.ApplicationUserName,
		Consumable:          true,
		AutoConsume:         autoConsume,
	})
}

func (c *Coordinator) buy(ctx context.Context, intent iap.PurchaseIntent) (string, error) {
	intent = intent.Normalize()

	log := c.log.With(
		zap.String("product_id", intent.ProductID),
		zap.Bool("consumable", intent.Consumable),
	)

	if err := c.supported(); err != nil {
		return "", err
	}
	if _, ok := c.products.Get(intent.ProductID); !ok {
		log.Debug("Rejecting purchase of unqueried product")
		return "", iap.ErrProductNotFound.WithMessage("product " + intent.ProductID + " has not been queried")
	}

	c.rememberConsumable(intent.ProductID, intent.Consumable)

	txn := &iap.Transaction{
		CorrelationID:       uuid.NewString(),
		ProductID:           intent.ProductID,
		Quantity:            intent.Quantity,
		ApplicationUserName: intent.ApplicationUserName,
		Platform:            c.adapter.Platform(),
		State:               iap.StateIdle,
		CreatedAt:           c.clock(),
		Consumable:          intent.Consumable,
		AutoConsume:         intent.AutoConsume,
	}
	if err := c.store.CreateTransaction(ctx, txn); err != nil {
		return "", iap.ErrInternal.WithCause(err).WithMessage("failed to track transaction")
	}

	log = log.With(zap.String("correlation_id", txn.CorrelationID))

	err := c.queue.Do(ctx, txn.CorrelationID, func(ctx context.Context) error {
		current, err := c.store.GetTransaction(ctx, txn.CorrelationID)
		if err != nil {
			return iap.ErrInternal.WithCause(err).WithMessage("failed to load transaction")
		}

		if err := c.transition(ctx, current, iap.StatePurchasing); err != nil {
			return err
		}

		submitErr := c.adapter.Purchase(ctx, intent, current.CorrelationID)
		if submitErr == nil {
			return nil
		}

		rejected := iap.AsError(submitErr)
		if rejected.Kind == iap.KindPurchaseCancelledByUser {
			current.Err = rejected
			err = c.transition(ctx, current, iap.StateCancelled)
		} else {
			err = c.fail(ctx, current, rejected)
		}
		if err != nil {
			log.Warn("Failed to record rejected purchase", zap.Error(err))
		}
		c.settle(ctx, current)
		return rejected
	})
	if errors.Is(err, errQueueClosed) {
		return "", iap.ErrInternal.WithMessage("coordinator is closed")
	}
	if err != nil {
		log.Debug("Purchase rejected", zap.Error(err))
		return "", iap.AsError(err)
	}

	log.Debug("Purchase submitted")
	return txn.CorrelationID, nil
}

// CompletePurchase finishes a purchase the host has granted: it consumes a
// consumable awaiting completion, or retries the failed acknowledge or consume
// step of a retained transaction. purchaseID is the native transaction id or
// the correlation id returned by a buy call. Completing an already finished
// purchase is a no-op.
func (c *Coordinator) CompletePurchase(ctx context.Context, purchaseID string) (*iap.PurchaseDetails, error) {
	log := c.log.With(zap.String("purchase_id", purchaseID))

	if err := c.supported(); err != nil {
		return nil, err
	}

	correlationID, err := c.lookup(ctx, purchaseID)
	if errors.Is(err, iap.ErrNotFound) {
		if c.isFinished(purchaseID) {
			log.Debug("Purchase already completed")
			return nil, nil
		}
		return nil, iap.ErrPurchaseFailed.WithMessage("unknown purchase " + purchaseID)
	} else if err != nil {
		return nil, iap.AsError(err)
	}

	var details iap.PurchaseDetails
	err = c.queue.Do(ctx, correlationID, func(ctx context.Context) error {
		txn, err := c.store.GetTransaction(ctx, correlationID)
		if errors.Is(err, iap.ErrNotFound) {
			// Released while queued behind a native update.
			return nil
		} else if err != nil {
			return iap.ErrInternal.WithCause(err).WithMessage("failed to load transaction")
		}

		switch {
		case txn.State == iap.StateAwaitingCompletion:
			if err = c.transition(ctx, txn, iap.StateConsuming); err == nil {
				err = c.consume(ctx, txn)
			}

		case txn.CanRetryFinish():
			txn.Attempt++
			log.Debug("Retrying finish", zap.String("failure", txn.Err.Kind.String()), zap.Int("attempt", txn.Attempt))

			if txn.Err.Kind == iap.KindConsumeFailed {
				if err = c.transition(ctx, txn, iap.StateConsuming); err == nil {
					err = c.consume(ctx, txn)
				}
			} else {
				if err = c.transition(ctx, txn, iap.StateAcknowledging); err == nil {
					err = c.finish(ctx, txn)
				}
			}

		case txn.State.IsTerminal():
			details = txn.Details()
			return nil

		default:
			return iap.ErrPurchasePending.WithMessage("purchase is " + txn.State.String())
		}

		c.settle(ctx, txn)
		details = txn.Details()
		return err
	})
	if errors.Is(err, errQueueClosed) {
		return nil, iap.ErrInternal.WithMessage("coordinator is closed")
	}
	if err != nil {
		return nil, iap.AsError(err)
	}
	if details.ProductID == "" {
		return nil, nil
	}
	return &details, nil
}

// ReceiptData returns the platform receipt material of a purchase the
// coordinator still retains, for server-side validation.
func (c *Coordinator) ReceiptData(ctx context.Context, purchaseID string) (string, error) {
	if err := c.supported(); err != nil {
		return "", err
	}

	correlationID, err := c.lookup(ctx, purchaseID)
	if errors.Is(err, iap.ErrNotFound) {
		return "", iap.ErrPurchaseFailed.WithMessage("unknown purchase " + purchaseID)
	} else if err != nil {
		return "", iap.AsError(err)
	}

	txn, err := c.store.GetTransaction(ctx, correlationID)
	if errors.Is(err, iap.ErrNotFound) {
		return "", iap.ErrPurchaseFailed.WithMessage("unknown purchase " + purchaseID)
	} else if err != nil {
		return "", iap.ErrInternal.WithCause(err).WithMessage("failed to load transaction")
	}

	receipt, err := c.adapter.ReceiptData(ctx, txn)
	if err != nil {
		return "", iap.AsError(err)
	}
	return receipt, nil
}

// lookup resolves a host-facing purchase id to a correlation id.
func (c *Coordinator) lookup(ctx context.Context, purchaseID string) (string, error) {
	if purchaseID == "" {
		return "", iap.ErrNotFound
	}
	if correlationID, ok := c.correlationForNativeID(purchaseID); ok {
		return correlationID, nil
	}
	if _, err := c.store.GetTransaction(ctx, purchaseID); err == nil {
		return purchaseID, nil
	}
	txn, err := c.store.GetTransactionByNativeID(ctx, purchaseID)
	if err != nil {
		return "", err
	}
	return txn.CorrelationID, nil
}
