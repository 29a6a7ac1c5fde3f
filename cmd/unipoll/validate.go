package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/unipoll"
	"github.com/jpalmerr/unipoll/config"
)

// validateCmd validates the configuration without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the unipoll configuration without starting the server.

This command parses the YAML (if given), applies environment overrides, and
validates all fields. With --probe it also runs one poll against the
controller to check connectivity and credentials.

Exit codes:
  0 - Config is valid (and the probe succeeded)
  1 - Config is invalid or the probe failed (details printed to stderr)

Example:
  unipoll validate -c unipoll.yaml
  unipoll validate -c unipoll.yaml --probe`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().Bool("probe", false, "run one poll against the controller")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Controller:    %s\n", cfg.ControllerURL)
	fmt.Fprintf(out, "  Site:          %s\n", cfg.Site)
	fmt.Fprintf(out, "  Auth:          %s\n", cfg.AuthMode())
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Fprintf(out, "  HTTP timeout:  %s\n", cfg.HTTPTimeout.Duration())

	probe, _ := cmd.Flags().GetBool("probe")
	if !probe {
		return nil
	}
	return runProbe(cmd.Context(), cfg, out, cmd.ErrOrStderr())
}

// runProbe polls the controller once and prints what it found.
func runProbe(ctx context.Context, cfg *config.Config, out, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := newLogger(cfg, logOut)
	exp, err := unipoll.New(config.BuildOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	result := exp.Probe(ctx)
	if !result.Success {
		return fmt.Errorf("probe failed (%s): %w", result.ErrorKind, result.Err)
	}

	fmt.Fprintf(out, "Probe succeeded in %s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Devices: %d (%d skipped)\n", result.Devices, result.SkippedDevices)
	fmt.Fprintf(out, "  Clients: %d (%d skipped)\n", result.Clients, result.SkippedClients)
	fmt.Fprintf(out, "  Sites:   %d (%d skipped)\n", result.Sites, result.SkippedSites)
	return nil
}
