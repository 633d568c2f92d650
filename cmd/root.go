package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kebairia/sitebackup/internal/config"
)

// ConfigFile is the path to the YAML configuration.
var (
	ConfigFile string
	// rootCmd is the base command for sitebackup.
	rootCmd = &cobra.Command{
		Use:   "sitebackup",
		Short: "Back up a site's databases and files to S3",
		Long: `sitebackup dumps the configured MySQL databases, copies the configured
directories, archives them into one tarball, optionally encrypts it with gpg
and uploads it to an S3 bucket. Nothing is left on local disk afterwards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command. It exits the process with status 1 when the
// command fails.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates ConfigFile.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if ConfigFile == "" {
		return cfg, fmt.Errorf("config file is required (-c flag)")
	}
	if err := cfg.Load(ConfigFile); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "./config.yaml", "path to YAML config file")
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(validateCmd)
}
