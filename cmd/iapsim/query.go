package main

import (
	"github.com/spf13/cobra"
)

func newQueryCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <product-id>...",
		Short: "Query product details",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, err := newSimulator(cmd.Context(), root.cfg, root.log)
			if err != nil {
				return err
			}
			defer sim.Close()

			resp, err := sim.coordinator.QueryProductDetails(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}
