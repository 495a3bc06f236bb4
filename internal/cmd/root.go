package cmd

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signcrate/signcrate/internal/config"
	"github.com/signcrate/signcrate/internal/observability"
	"github.com/signcrate/signcrate/internal/server/handlers"
)

var (
	cfgFile  string
	verbose  bool
	logLevel string
	folder   string

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Download signed envelopes from the e-signature service",
	Long: `signcrate downloads signed envelopes (documents and completion
certificates) from the e-signature service while staying under the
account's API rate ceiling.

Use the subcommands to perform specific operations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so recorders stay quiet until a command
	// asks for the Prometheus exporter.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/signcrate/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&folder, "folder", "", "download folder (overrides download.folder)")
}

// initConfig loads configuration and initializes the loggers.
func initConfig() {
	cfg, err := config.Load(context.Background(), cfgFile, flagOverrides())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to load configuration", err)
	}

	observability.InitCLILogger(config.AppName, cfg.Logging.Level, verbose)
	if strings.EqualFold(cfg.Logging.Profile, "structured") {
		observability.InitServerLogger(config.AppName, cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
	}

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("config_file", cfgFile),
		zap.String("folder", cfg.Download.Folder),
		zap.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute))
}

// flagOverrides maps global flags onto config keys.
func flagOverrides() map[string]any {
	overrides := map[string]any{}
	if strings.TrimSpace(folder) != "" {
		overrides["download"] = map[string]any{"folder": strings.TrimSpace(folder)}
	}
	if strings.TrimSpace(logLevel) != "" {
		overrides["logging"] = map[string]any{"level": strings.TrimSpace(logLevel)}
	}
	return overrides
}
