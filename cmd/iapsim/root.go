package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/config"
)

type rootOptions struct {
	configPath string
	envFiles   []string
	platform   string
	journal    string
	catalog    string
	verbose    bool

	cfg *config.Config
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "iapsim",
		Short:         "Simulate in-app purchases against a sandbox store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringSliceVar(&opts.envFiles, "env-file", nil, "env files to load (default .env when present)")
	flags.StringVarP(&opts.platform, "platform", "p", "", "store generation (storekit|storekit2|play|unsupported)")
	flags.StringVar(&opts.journal, "journal", "", "SQLite transaction journal path")
	flags.StringVar(&opts.catalog, "catalog", "", "sandbox product catalog path")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newBuyCommand(opts))
	cmd.AddCommand(newRestoreCommand(opts))
	cmd.AddCommand(newCountryCommand(opts))
	cmd.AddCommand(newTransactionsCommand(opts))

	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("platform") {
		cfg.Platform = o.platform
	}
	if flags.Changed("journal") {
		cfg.JournalPath = o.journal
	}
	if flags.Changed("catalog") {
		cfg.CatalogPath = o.catalog
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := cfg.Logger()
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.log = log
	return nil
}
