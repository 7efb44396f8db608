// Package report renders run summaries for humans and maps them to a
// machine-readable exit signal.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

// Exit codes for the deploy command.
const (
	ExitSuccess     = 0
	ExitRunFailed   = 1
	ExitConfigError = 2
)

// Reporter writes the per-target table and the overall verdict.
type Reporter struct {
	out       io.Writer
	useColors bool
}

func NewReporter(useColors bool) *Reporter {
	return &Reporter{out: os.Stdout, useColors: useColors}
}

// NewReporterWithWriter is used by tests.
func NewReporterWithWriter(w io.Writer, useColors bool) *Reporter {
	return &Reporter{out: w, useColors: useColors}
}

// Print emits one line per target plus the overall outcome.
func (r *Reporter) Print(summary model.RunSummary) {
	table := tablewriter.NewTable(r.out,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{Borders: tw.BorderNone}),
	)

	table.Header([]string{"Target", "Outcome", "Phase", "Duration", "Error"})
	for _, res := range summary.Results {
		table.Append([]string{
			res.TargetLabel,
			r.colorize(res.Outcome),
			string(res.Phase),
			res.Duration.Round(time.Millisecond).String(),
			errorCell(res),
		})
	}
	table.Render()

	fmt.Fprintf(r.out, "\nRun %s: %s (%d/%d targets succeeded)\n",
		summary.RunID, r.colorizeOverall(summary.Overall),
		succeeded(summary), len(summary.Results))
}

func succeeded(summary model.RunSummary) int {
	n := 0
	for _, res := range summary.Results {
		if res.Outcome == model.OutcomeSuccess {
			n++
		}
	}
	return n
}

func errorCell(res model.DeploymentResult) string {
	if res.Outcome == model.OutcomeSuccess {
		return ""
	}
	if res.ErrorKind != "" {
		return fmt.Sprintf("[%s] %s", res.ErrorKind, res.ErrorDetail)
	}
	return res.ErrorDetail
}

func (r *Reporter) colorize(outcome model.Outcome) string {
	if !r.useColors {
		return string(outcome)
	}
	if outcome == model.OutcomeSuccess {
		return color.GreenString(string(outcome))
	}
	return color.RedString(string(outcome))
}

func (r *Reporter) colorizeOverall(overall model.OverallOutcome) string {
	if !r.useColors {
		return string(overall)
	}
	switch overall {
	case model.AllSucceeded:
		return color.GreenString(string(overall))
	case model.PartialFailure:
		return color.YellowString(string(overall))
	default:
		return color.RedString(string(overall))
	}
}

// ExitCode is zero only when every target succeeded. Partial success
// still exits nonzero so upstream automation investigates, while the
// succeeded targets stay deployed.
func ExitCode(summary model.RunSummary) int {
	if summary.Overall == model.AllSucceeded {
		return ExitSuccess
	}
	return ExitRunFailed
}
