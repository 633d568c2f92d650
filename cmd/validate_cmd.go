package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file without running a backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"config %s is valid: site %q, %d database(s), %d file source(s), encryption %t\n",
			ConfigFile, cfg.Name, len(cfg.Database), len(cfg.Files), cfg.GPG.Enabled())
		return nil
	},
}
