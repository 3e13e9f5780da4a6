package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/code-payments/iap-coordinator/coordinator"
	"github.com/code-payments/iap-coordinator/iap"
)

type restoreOptions struct {
	*rootOptions

	owned       []string
	user        string
	waitTimeout time.Duration
}

func newRestoreCommand(root *rootOptions) *cobra.Command {
	opts := &restoreOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore previously completed purchases",
		Long: `Restore buys every --owned product first, since a fresh sandbox owns
nothing, then restores the store account and prints the restored purchases.

Example:
  iapsim restore --owned premium --platform play`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRestore(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.owned, "owned", nil, "non-consumable products to buy before restoring")
	flags.StringVarP(&opts.user, "user", "u", "", "application user name")
	flags.DurationVar(&opts.waitTimeout, "timeout", 10*time.Second, "time to wait for each seeded purchase")

	return cmd
}

func runRestore(cmd *cobra.Command, opts *restoreOptions) error {
	ctx := cmd.Context()

	sim, err := newSimulator(ctx, opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer sim.Close()

	if len(opts.owned) > 0 {
		resp, err := sim.coordinator.QueryProductDetails(ctx, opts.owned)
		if err != nil {
			return err
		}
		if resp.Error != nil {
			return resp.Error
		}

		stream := sim.coordinator.Subscribe()
		for _, productID := range opts.owned {
			_, err := sim.coordinator.BuyNonConsumable(ctx, coordinator.PurchaseParam{
				ProductID:           productID,
				ApplicationUserName: opts.user,
			})
			if err != nil {
				sim.coordinator.Unsubscribe(stream)
				return errors.Wrapf(err, "failed to buy %s", productID)
			}

			waitCtx, cancel := withTimeout(ctx, opts.waitTimeout)
			details, err := sim.await(waitCtx, stream, productID, true)
			cancel()
			if err != nil {
				sim.coordinator.Unsubscribe(stream)
				return err
			}
			if details.Status != iap.StatusPurchased {
				sim.coordinator.Unsubscribe(stream)
				return errors.Errorf("seeding %s ended %s", productID, details.Status)
			}
		}
		sim.coordinator.Unsubscribe(stream)
	}

	restored, err := sim.coordinator.RestorePurchases(ctx, opts.user)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), restored)
}
