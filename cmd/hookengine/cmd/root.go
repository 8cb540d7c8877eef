// Package cmd provides the CLI commands for hookengine.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scmhooks/hookengine/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hookengine",
	Short: "hookengine - hook execution service for source-control pushes",
	Long: `hookengine evaluates changeset- and file-level rules against pushes to
bound bookmarks, caching per-file verdicts and letting privileged identities
bypass checks via the access-control probe.

Quick start:
  1. Create a config file: hookengine.yaml
  2. Run: hookengine serve

Configuration:
  Config is loaded from hookengine.yaml in the current directory,
  $HOME/.hookengine/, or /etc/hookengine/.

  Environment variables can override config values with the HOOKENGINE_ prefix.
  Example: HOOKENGINE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the HTTP driver
  validate    Validate a configuration file without starting the server
  hash-key    Generate an admin token hash for use in config
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./hookengine.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
