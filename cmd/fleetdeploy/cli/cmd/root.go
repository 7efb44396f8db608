package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fleetdeploy/fleetdeploy/internal/config"
	"github.com/fleetdeploy/fleetdeploy/internal/logger"
	"github.com/fleetdeploy/fleetdeploy/internal/report"
)

var (
	cfgFile string
	log     *zap.Logger

	rootCmd = &cobra.Command{
		Use:   "fleetdeploy",
		Short: "Multi-target remote deployment orchestrator",
		Long: `fleetdeploy pushes an application artifact to a fleet of VMs over
SSH, runs the deployment script on each, supervises the process with
pm2, health-checks the service, and reports aggregated results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// configError marks a pre-run registry or setup problem so it exits
// with a distinct code from a failed run.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return report.ExitConfigError
	}
	return report.ExitRunFailed
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "fleetdeploy.yaml", "config file with the target registry")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("no-color", rootCmd.PersistentFlags().Lookup("no-color"))

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(versionCmd)
}

func initViper() {
	viper.SetEnvPrefix("FLEETDEPLOY")
	viper.AutomaticEnv()
}

// loadConfig reads the registry and builds the logger for it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, &configError{err: err}
	}

	env := cfg.Env
	if viper.GetBool("verbose") {
		env = "development"
	}
	log, err = logger.New(env)
	if err != nil {
		return nil, &configError{err: err}
	}
	return cfg, nil
}

func useColors() bool {
	if viper.GetBool("no-color") {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return true
}
