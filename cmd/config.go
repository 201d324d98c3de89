// Package cmd provides CLI commands for the aser replay selection tool.
// This file implements the config command, which prints the effective
// configuration.
package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the --config file and ASER_*
environment variables are applied. Invalid settings are reported instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, err := loadConfig()
		if err != nil {
			return err
		}
		defer mgr.Close()

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(mgr.Get()); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
