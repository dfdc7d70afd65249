// Package cli builds the amelia command tree on top of the app package.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unicesi/amelia-sub000/internal/app"
	"github.com/unicesi/amelia-sub000/internal/registry"
	"github.com/unicesi/amelia-sub000/internal/session"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// usageError marks a command line the user has to fix.
func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

// Options wires the command tree to its environment.
type Options struct {
	Out io.Writer
	// Dialer opens the target sessions. Nil connects over SSH.
	Dialer session.Dialer
	// Redeploy receives a value whenever a kept-running deployment should
	// deploy again.
	Redeploy <-chan struct{}
}

// globalFlags are shared by every sub-command.
type globalFlags struct {
	logLevel  string
	logFormat string
}

// loadFlags select and load the deployment description.
type loadFlags struct {
	format     string
	hosts      string
	knownHosts string
}

func (f *loadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "", "Description format: 'hcl' or 'yaml'. Detected from the paths when empty.")
	cmd.Flags().StringVar(&f.hosts, "hosts", "", "Tab-separated host list; overrides the description's hosts_file.")
	cmd.Flags().StringVar(&f.knownHosts, "known-hosts", "", "known_hosts file used to verify host keys. Host keys are not checked when empty.")
}

func (f *loadFlags) config(g *globalFlags, args []string) app.Config {
	return app.Config{
		ConfigPaths: args,
		Format:      strings.ToLower(f.format),
		HostsFile:   f.hosts,
		KnownHosts:  f.knownHosts,
		LogLevel:    strings.ToLower(g.logLevel),
		LogFormat:   strings.ToLower(g.logFormat),
	}
}

// NewRootCommand returns the amelia command tree.
func NewRootCommand(opts Options) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "amelia",
		Short:         "Amelia deploys distributed systems over SSH",
		Long:          `Amelia runs the actions of a deployment description on remote hosts, each action starting once every action it depends on has finished on all of its hosts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
	if opts.Out != nil {
		root.SetOut(opts.Out)
		root.SetErr(opts.Out)
	}

	root.AddCommand(
		newDeployCommand(g, opts),
		newValidateCommand(g, opts),
		newGraphCommand(g, opts),
		newKindsCommand(opts),
	)
	return root
}

func requirePaths(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usageError(errors.New("at least one deployment description path is required"))
	}
	return nil
}

// newApp validates cfg and builds the app, mapping configuration mistakes
// to usage errors.
func newApp(cmd *cobra.Command, cfg app.Config, opts Options) (*app.App, error) {
	appConfig, err := app.NewConfig(cfg)
	if err != nil {
		return nil, usageError(err)
	}
	a, err := app.NewApp(cmd.OutOrStdout(), appConfig, opts.Dialer)
	if err != nil {
		return nil, &ExitError{Code: 1, Message: err.Error()}
	}
	return a, nil
}

func newDeployCommand(g *globalFlags, opts Options) *cobra.Command {
	var (
		load               loadFlags
		stopPrevious       bool
		keepRunning        bool
		parallelSubsystems bool
		healthcheckPort    int
		notifyURL          string
	)
	cmd := &cobra.Command{
		Use:   "deploy [flags] PATH...",
		Short: "Deploy a description",
		Long:  "Loads every .hcl or .yaml file under the given paths and deploys it.",
		Args:  requirePaths,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load.config(g, args)
			cfg.StopPrevious = stopPrevious
			cfg.KeepRunning = keepRunning
			cfg.ParallelSubsystems = parallelSubsystems
			cfg.HealthcheckPort = healthcheckPort
			cfg.NotifyURL = notifyURL

			a, err := newApp(cmd, cfg, opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if opts.Redeploy != nil {
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case <-opts.Redeploy:
							a.Redeploy()
						}
					}
				}()
			}

			if err := a.Run(ctx); err != nil {
				return &ExitError{Code: 1, Message: fmt.Sprintf("deployment failed: %v", err)}
			}
			return nil
		},
	}
	load.register(cmd)
	cmd.Flags().BoolVar(&stopPrevious, "stop-previous", false, "Stop the executions of the previous round before redeploying.")
	cmd.Flags().BoolVar(&keepRunning, "keep-running", false, "Leave executions running after a successful deployment until interrupted.")
	cmd.Flags().BoolVar(&parallelSubsystems, "parallel-subsystems", false, "Deploy independent subsystems concurrently.")
	cmd.Flags().IntVar(&healthcheckPort, "healthcheck-port", 0, "Port for the /health and /metrics HTTP server. 0 is disabled.")
	cmd.Flags().StringVar(&notifyURL, "notify-url", "", "socket.io endpoint that receives unit events.")
	return cmd
}

func newValidateCommand(g *globalFlags, opts Options) *cobra.Command {
	var load loadFlags
	cmd := &cobra.Command{
		Use:   "validate [flags] PATH...",
		Short: "Check a description without contacting any host",
		Args:  requirePaths,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, load.config(g, args), opts)
			if err != nil {
				return err
			}
			if err := a.Validate(); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deployment description is valid.")
			return nil
		},
	}
	load.register(cmd)
	return cmd
}

func newGraphCommand(g *globalFlags, opts Options) *cobra.Command {
	var load loadFlags
	cmd := &cobra.Command{
		Use:   "graph [flags] PATH...",
		Short: "Print the subsystems and actions of a description",
		Args:  requirePaths,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, load.config(g, args), opts)
			if err != nil {
				return err
			}
			if err := a.Describe(cmd.OutOrStdout()); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			return nil
		},
	}
	load.register(cmd)
	return cmd
}

func newKindsCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the action kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.New().Load(app.CoreModules()...)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tREQUIRED\tOPTIONAL\tDESCRIPTION")
			for _, k := range reg.Kinds() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.Name, list(k.Required), list(k.Optional), k.Description)
			}
			return tw.Flush()
		},
	}
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

// Execute runs the command tree with args. Errors are returned as
// *ExitError.
func Execute(ctx context.Context, args []string, opts Options) error {
	root := NewRootCommand(opts)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	// Unknown commands and cobra's own argument checks.
	return usageError(err)
}
