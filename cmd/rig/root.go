package main

import (
	"github.com/spf13/cobra"

	"github.com/LougLynx/RIG-SYSTEM/internal/config"
)

// cli carries state shared by every subcommand.
type cli struct {
	cfg      *config.Config
	logLevel string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "rig",
		Short: "Receiving reconciliation worker",
		Long: `rig polls the supplier shipment advice feed, reconciles it against the
receiving ledger and pushes changes to the receiving dashboards.`,
		PersistentPreRunE: c.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides LOG_LEVEL)")

	root.AddCommand(
		newWorkerCmd(c),
		newOnceCmd(c),
		newArchivePlansCmd(c),
		newMigrateCmd(c),
		newReplayDLQCmd(c),
	)
	return root
}

func (c *cli) setup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	config.ConfigureLogging(cfg)
	c.cfg = cfg
	return nil
}
