package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newOnceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single reconciliation cycle and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(c.cfg)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.scheduler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
}
