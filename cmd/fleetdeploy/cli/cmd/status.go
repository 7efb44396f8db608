package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetdeploy/fleetdeploy/internal/orchestrator"
	"github.com/fleetdeploy/fleetdeploy/internal/report"
	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the latest recorded run, or a specific one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		journal, err := orchestrator.OpenJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()

		var (
			summary model.RunSummary
			found   bool
		)
		if len(args) == 1 {
			summary, found, err = journal.GetRun(args[0])
		} else {
			summary, found, err = journal.LatestRun()
		}
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no matching run in journal %s", cfg.JournalPath)
		}

		report.NewReporter(useColors()).Print(summary)
		return nil
	},
}
