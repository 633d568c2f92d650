package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/sitebackup/internal/logger"
	"github.com/kebairia/sitebackup/internal/operations"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run one backup cycle as per config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log, err := logger.New(cfg.Backup.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Cleanup()

		// An interrupt kills the running command; cleanup still happens.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return operations.Execute(ctx, cfg, log)
	},
}
