// Package cmd implements the ekaya-query-gateway command line: the HTTP server plus
// catalog and migration maintenance commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "ekaya-query-gateway",
	Short:         "Expose configured SQL Server and Oracle queries as HTTP endpoints",
	Long:          `ekaya-query-gateway serves database queries described in a catalog as HTTP and MCP endpoints, rendering results as JSON, CSV, Excel or PDF.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI application.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
}

func loadConfig() (*config.Config, error) {
	return config.LoadFrom(configPath, Version)
}
