package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stator-io/stator/config"
)

// NewValidateCommand builds the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print the effective values",
		Long: `Validate loads the configuration the way run would (explicit file or
search paths, then environment overrides), checks it, and prints the
effective values. The exit status is non-zero when the configuration
does not validate.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "configuration ok")
	fmt.Fprintf(out, "  app:     %s (%s)\n", cfg.App.Name, cfg.App.Environment)
	fmt.Fprintf(out, "  log:     %s, %s\n", cfg.Log.Level, cfg.Log.Format)
	fmt.Fprintf(out, "  host:    %s\n", cfg.Runtime.Host)
	fmt.Fprintf(out, "  signals: %d\n", cfg.Runtime.MaxSignal)
	fmt.Fprintf(out, "  policy:  %s\n", cfg.Runtime.OverflowPolicy)
	fmt.Fprintf(out, "  tick:    %dms\n", cfg.Runtime.TickIntervalMS)
	for _, p := range cfg.Pools {
		fmt.Fprintf(out, "  pool:    %d blocks x %d bytes\n", p.Count, p.BlockSize)
	}
	if cfg.Monitor.Enabled {
		fmt.Fprintf(out, "  monitor: %s (%s, %s)\n",
			cfg.Monitor.Address, cfg.Monitor.MetricsPath, cfg.Monitor.HealthPath)
	} else {
		fmt.Fprintln(out, "  monitor: disabled")
	}

	for _, w := range configWarnings(cfg) {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

// configWarnings flags configurations that validate but deserve a
// second look before deployment.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if cfg.IsProduction() && !cfg.Monitor.Enabled {
		warnings = append(warnings, "monitor disabled in production")
	}
	if cfg.IsProduction() && cfg.Log.Level == config.LogLevelDebug {
		warnings = append(warnings, "debug logging in production")
	}
	if cfg.Runtime.TickIntervalMS == 0 {
		warnings = append(warnings, "tick interval is zero, time events will not fire")
	}
	return warnings
}
