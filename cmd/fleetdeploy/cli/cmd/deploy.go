package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fleetdeploy/fleetdeploy/internal/config"
	"github.com/fleetdeploy/fleetdeploy/internal/events"
	"github.com/fleetdeploy/fleetdeploy/internal/ocifetch"
	"github.com/fleetdeploy/fleetdeploy/internal/orchestrator"
	"github.com/fleetdeploy/fleetdeploy/internal/report"
	"github.com/fleetdeploy/fleetdeploy/internal/secrets"
	"github.com/fleetdeploy/fleetdeploy/internal/transport"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy all configured targets now",
	Long: `Deploy pushes the artifact to every target in the registry and runs
the full pipeline on each: sync, install dependencies, build, restart
the managed process, verify, health-check.

Targets are processed with bounded concurrency and fail independently:
one target's failure never skips or aborts another's attempt. The exit
code is zero only when every target succeeded.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().Bool("dry-run", false, "print the deployment plan without touching any host")
	deployCmd.Flags().Duration("dial-timeout", 30*time.Second, "SSH dial timeout per target")
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		printPlan(cfg)
		return nil
	}

	if cfg.Artifact.OCI.Image != "" {
		fetcher := &ocifetch.Fetcher{
			Image:    cfg.Artifact.OCI.Image,
			Tag:      cfg.Artifact.OCI.Tag,
			Username: cfg.Artifact.OCI.Username,
			Token:    os.Getenv(cfg.Artifact.OCI.TokenEnv),
			CacheDir: cfg.Artifact.OCI.CacheDir,
		}
		log.Info("fetching artifact from OCI registry", zap.String("image", cfg.Artifact.OCI.Image))
		if err := fetcher.Fetch(ctx); err != nil {
			return fmt.Errorf("artifact fetch failed: %w", err)
		}
	}

	store, err := secrets.New(cfg.Secrets.Backend, cfg.Secrets.EnvFile)
	if err != nil {
		return err
	}

	journal, err := orchestrator.OpenJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	dialTimeout, _ := cmd.Flags().GetDuration("dial-timeout")
	orch := orchestrator.New(cfg, transport.NewSSHDialer(dialTimeout), store, log)
	orch.Journal = journal

	if cfg.Events.NATSURL != "" {
		publisher, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, log)
		if err != nil {
			log.Warn("NATS unavailable, continuing without events", zap.Error(err))
		} else {
			defer publisher.Close()
			orch.Events = publisher
		}
	}

	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	report.NewReporter(useColors()).Print(summary)

	if code := report.ExitCode(summary); code != report.ExitSuccess {
		return fmt.Errorf("run %s finished %s", summary.RunID, summary.Overall)
	}
	return nil
}

// printPlan shows what a run would do without dialing any host.
func printPlan(cfg *config.Config) {
	fmt.Printf("Would deploy %d target(s) with concurrency %d:\n", len(cfg.Targets), cfg.Concurrency)
	for _, t := range cfg.Targets {
		fmt.Printf("  %s  host=%s  dir=%s  process=%s  port=%d\n",
			t.Label, t.Host, t.RemoteDir, t.ProcessName, t.ServicePort)
	}
}
