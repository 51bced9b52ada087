package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aide-ai/aide/internal/config"
	"github.com/aide-ai/aide/internal/daemon"
	"github.com/aide-ai/aide/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the AIDE engine",
	Long: `Start the AIDE engine in the foreground. The engine serves the
WebSocket gateway, runs agent cycles, and sweeps expired sessions until
it receives SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, cfgFile)
	if err != nil {
		return fmt.Errorf("failed to build daemon: %w", err)
	}

	return d.Run()
}
