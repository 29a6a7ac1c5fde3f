// Package main is the entry point for the unipoll CLI.
//
// unipoll can be run either as a library (SDK) or as a standalone exporter
// configured by a YAML file and environment variables. This CLI provides the
// standalone binary approach.
//
// Usage:
//
//	unipoll serve -c unipoll.yaml            # Start the exporter
//	unipoll serve                            # Configure from UNIFI_* env vars
//	unipoll validate -c unipoll.yaml --probe # Validate and test the controller
//	unipoll version                          # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "unipoll",
	Short: "Prometheus exporter for UniFi Network controllers",
	Long: `unipoll polls a UniFi Network controller and exposes its devices,
clients and sites as Prometheus metrics.

Quick start:
  1. Export UNIFI_CONTROLLER_URL and UNIFI_API_KEY
     (or UNIFI_USERNAME and UNIFI_PASSWORD)
  2. Run: unipoll serve
  3. Scrape http://localhost:9897/metrics

Example config:
  controller_url: https://192.168.1.1
  api_key: ${UNIFI_API_KEY}
  poll_interval: 30s
  verify_ssl: false`,
	SilenceUsage: true,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this unipoll binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "unipoll %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (optional; environment variables are used when omitted)")
}
