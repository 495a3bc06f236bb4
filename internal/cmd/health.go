package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/signcrate/signcrate/internal/errors"
	"github.com/signcrate/signcrate/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Check that signcrate can start a run: configuration, credentials,
private key, download folder and run history. No remote calls are made.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger.Info("Running health check...")

		cfg, err := loadedConfig()
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration not loaded", err)
			return
		}

		failed := 0
		check := func(name string, err error) {
			if err != nil {
				failed++
				logger.Error("❌ FAIL: "+name, zap.Error(err))
				return
			}
			logger.Info("✅ " + name)
		}

		check("Configuration valid", cfg.Validate())
		check("Credentials configured", cfg.ValidateRemote())
		check("Private key readable", checkReadable(cfg.ESign.PrivateKeyPath))
		check("Download folder writable", checkWritableDir(cfg.Download.Folder))

		if cfg.Store.Enabled {
			db, err := openStore(cmd.Context())
			if err == nil {
				_ = db.Close()
			}
			check("Run history available", err)
		} else {
			logger.Info("➖ Run history disabled")
		}

		logger.Info("")
		if failed > 0 {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Health check failed",
				errwrap.NewConfigInvalidError("one or more health checks failed"))
			return
		}
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func checkReadable(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path is empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	return file.Close()
}

// checkWritableDir creates dir if needed and probes it with a temp file.
func checkWritableDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".signcrate-health-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(filepath.Clean(name))
}
