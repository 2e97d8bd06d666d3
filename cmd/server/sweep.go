package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docspark/api/internal/reaper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired jobs once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := build(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		res := reaper.New(c.service, c.cfg.Jobs.ReaperSchedule, c.logger).Sweep(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired jobs, %d failures\n", res.Deleted, res.Failed)
		if res.Failed > 0 {
			return fmt.Errorf("%d jobs could not be reclaimed", res.Failed)
		}
		return nil
	},
}
