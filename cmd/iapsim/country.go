package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCountryCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "country",
		Short: "Print the storefront country code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sim, err := newSimulator(cmd.Context(), root.cfg, root.log)
			if err != nil {
				return err
			}
			defer sim.Close()

			code, err := sim.coordinator.CountryCode(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), code)
			return err
		},
	}
}
