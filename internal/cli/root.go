// Package cli implements the stator command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/stator-io/stator/config"
)

// RootOptions holds the global flags shared by all subcommands.
type RootOptions struct {
	// ConfigFile is an explicit configuration file. Empty means search
	// the loader's default paths.
	ConfigFile string
}

// NewRootCommand builds the stator root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stator",
		Short: "Stator - an active-object runtime",
		Long: `Stator runs event-driven applications built from active objects:
state machines with private event queues scheduled over a shared
runtime. The CLI loads a configuration, checks it, and runs the
application shell with its monitoring endpoint.`,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "",
		"configuration file (yaml or json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig resolves the configuration the global flags point at: the
// explicit file when given, otherwise the loader's search paths with
// defaults as the fallback.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	loader := config.NewLoader()
	if opts.ConfigFile != "" {
		return loader.Load(opts.ConfigFile)
	}
	return loader.AutoLoad()
}
