package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the configured target registry",
	Long: `Targets validates the registry file and prints every target with
its effective settings, defaults applied. Useful before a deploy to
confirm what a run would touch.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		table := tablewriter.NewTable(os.Stdout,
			tablewriter.WithRendition(tw.Rendition{Borders: tw.BorderNone}),
		)
		table.Header([]string{"Label", "Host", "Remote Dir", "Process", "Port", "Credential Ref"})
		for _, t := range cfg.Targets {
			table.Append([]string{
				t.Label,
				t.Host,
				t.RemoteDir,
				t.ProcessName,
				strconv.Itoa(t.ServicePort),
				t.CredentialRef,
			})
		}
		table.Render()

		fmt.Printf("\n%d target(s), concurrency %d\n", len(cfg.Targets), cfg.Concurrency)
		return nil
	},
}
