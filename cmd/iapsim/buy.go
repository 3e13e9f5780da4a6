package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/coordinator"
	"github.com/code-payments/iap-coordinator/event"
	"github.com/code-payments/iap-coordinator/iap"
	"github.com/code-payments/iap-coordinator/sandbox"
)

type buyOptions struct {
	*rootOptions

	quantity      int
	user          string
	noAutoConsume bool
	complete      bool
	approve       bool
	outcomes      []string
	failFinish    int
	waitTimeout   time.Duration
}

func newBuyCommand(root *rootOptions) *cobra.Command {
	opts := &buyOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "buy <product-id>...",
		Short: "Buy products one after another and print each outcome",
		Long: `Buy queries the products, then buys each one and waits for its outcome on
the purchase-update stream. Consumability comes from the sandbox catalog.

Example:
  iapsim buy premium
  iapsim buy coins_100 --outcome pending --approve
  iapsim buy coins_100 --no-auto-consume --complete`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuy(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.quantity, "quantity", "q", 1, "quantity of consumables")
	flags.StringVarP(&opts.user, "user", "u", "", "application user name")
	flags.BoolVar(&opts.noAutoConsume, "no-auto-consume", false, "leave consumables awaiting completion")
	flags.BoolVar(&opts.complete, "complete", false, "complete consumables awaiting completion")
	flags.BoolVar(&opts.approve, "approve", false, "approve pending purchases")
	flags.StringSliceVarP(&opts.outcomes, "outcome", "o", nil, "scripted outcomes (success|cancel|pending|fail), in purchase order")
	flags.IntVar(&opts.failFinish, "fail-finish", 0, "fail the next n finish calls")
	flags.DurationVar(&opts.waitTimeout, "timeout", 10*time.Second, "time to wait for each outcome")

	return cmd
}

func runBuy(cmd *cobra.Command, opts *buyOptions, productIDs []string) error {
	outcomes := make([]sandbox.Outcome, 0, len(opts.outcomes))
	for _, name := range opts.outcomes {
		outcome, err := sandbox.ParseOutcome(name)
		if err != nil {
			return err
		}
		outcomes = append(outcomes, outcome)
	}

	ctx := cmd.Context()

	sim, err := newSimulator(ctx, opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer sim.Close()

	if err := sim.queue(outcomes); err != nil {
		return err
	}
	if opts.failFinish > 0 && sim.script != nil {
		sim.script.FailFinishes(opts.failFinish)
	}

	resp, err := sim.coordinator.QueryProductDetails(ctx, productIDs)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}

	stream := sim.coordinator.Subscribe()
	defer sim.coordinator.Unsubscribe(stream)

	results := make([]any, 0, len(productIDs))
	for _, productID := range productIDs {
		result, err := opts.buyOne(ctx, sim, stream, productID)
		if err != nil {
			return err
		}
		results = append(results, result)
	}
	return printJSON(cmd.OutOrStdout(), results)
}

type rejection struct {
	ProductID string     `json:"productId"`
	Error     *iap.Error `json:"error"`
}

func (o *buyOptions) buyOne(ctx context.Context, sim *simulator, stream *event.PurchaseUpdateStream, productID string) (any, error) {
	param := coordinator.PurchaseParam{
		ProductID:           productID,
		Quantity:            o.quantity,
		ApplicationUserName: o.user,
	}

	product, _ := sim.catalog.Product(productID)

	var err error
	if product.Consumable {
		_, err = sim.coordinator.BuyConsumable(ctx, param, !o.noAutoConsume)
	} else {
		_, err = sim.coordinator.BuyNonConsumable(ctx, param)
	}
	if err != nil {
		sim.log.Debug("Purchase rejected", zap.String("product_id", productID), zap.Error(err))
		return rejection{ProductID: productID, Error: iap.AsError(err)}, nil
	}

	waitCtx, cancel := withTimeout(ctx, o.waitTimeout)
	defer cancel()

	details, err := sim.await(waitCtx, stream, productID, o.approve)
	if err != nil {
		return nil, err
	}

	if o.complete && details.PendingCompletePurchase && details.Status == iap.StatusPurchased {
		completed, err := sim.coordinator.CompletePurchase(ctx, details.PurchaseID)
		if err != nil {
			return rejection{ProductID: productID, Error: iap.AsError(err)}, nil
		}
		if completed != nil {
			return *completed, nil
		}
	}
	return details, nil
}
