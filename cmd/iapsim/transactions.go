package main

import (
	"github.com/spf13/cobra"
)

func newTransactionsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transactions",
		Short: "List retained transactions in the journal",
		Long: `Transactions lists the purchases still retained by the coordinator: those
awaiting completion, and those whose acknowledge or consume step failed and can
be retried. Use it with --journal to inspect a journal left by an earlier run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sim, err := newSimulator(cmd.Context(), root.cfg, root.log)
			if err != nil {
				return err
			}
			defer sim.Close()

			txns, err := sim.coordinator.Transactions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), txns)
		},
	}
}
