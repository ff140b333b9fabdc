package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stator-io/stator/bootstrap"
	"github.com/stator-io/stator/config"
)

// RunOptions holds the run command flags.
type RunOptions struct {
	*RootOptions

	// Watch reloads the configuration file on change and applies the
	// dynamic subset while running.
	Watch bool
}

// NewRunCommand builds the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured application shell",
		Long: `Run starts the configured application: the runtime on its execution
host, the clock ticker and the monitor endpoint, then waits for SIGINT
or SIGTERM.

With --watch the configuration file is watched while running: dynamic
changes (log level, monitor settings) apply live, structural changes
(pools, runtime, app identity) are rejected until the next restart.

Example:
  stator run --config stator.yaml
  stator run --config /etc/stator/stator.yaml --watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false,
		"watch the configuration file and apply dynamic changes")

	return cmd
}

func runApp(opts *RunOptions, cmd *cobra.Command) error {
	if opts.Watch && opts.ConfigFile == "" {
		return errors.New("--watch requires --config")
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}
	log := app.Logger()

	if opts.Watch {
		watcher, err := config.NewWatcher(opts.ConfigFile, config.NewLoader())
		if err != nil {
			return err
		}
		watcher.SetLogger(log)
		watcher.OnChange(app.ApplyDynamic)
		if err := watcher.Start(); err != nil {
			return err
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				log.Error("config watcher stop failed", "error", err)
			}
		}()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "stator running; press Ctrl-C to stop")
	return app.Run(ctx)
}
