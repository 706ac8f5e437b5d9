package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"fintrack/internal/app"
	"fintrack/internal/apperr"
)

// WireFactory builds the dependency graph for one command. release is
// called when the command is done with it.
type WireFactory func(ctx context.Context, opts *RootOptions) (w *app.Wire, release func() error, err error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// NewWire defaults to building from the environment.
	NewWire WireFactory
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fintrack CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{})
}

// NewRootCommandWith creates the root command over opts.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	if opts.NewWire == nil {
		opts.NewWire = defaultWire
	}

	cmd := &cobra.Command{
		Use:   "fintrack",
		Short: "fintrack - personal finance tracker",
		Long:  "Track income, spending, categories and savings goals against the fintrack API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				msg := fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", msg)
				return &ExitError{Code: ExitCommandError, Message: msg}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewSignupCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewCreditsCommand(opts))
	cmd.AddCommand(NewSpendingsCommand(opts))
	cmd.AddCommand(NewCategoriesCommand(opts))
	cmd.AddCommand(NewGoalsCommand(opts))
	cmd.AddCommand(NewRecommendationsCommand(opts))
	cmd.AddCommand(NewRemindersCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

func defaultWire(ctx context.Context, opts *RootOptions) (*app.Wire, func() error, error) {
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := SetupLogger(nil, cfg.LogLevel, opts.Verbose)
	w, err := app.NewWire(ctx, app.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return w, w.Close, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// session builds the wire, restores the persisted session and waits for
// the initial load before calling fn. requireAuth rejects signed-out users.
func (o *RootOptions) session(cmd *cobra.Command, requireAuth bool, fn func(ctx context.Context, w *app.Wire, f *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := o.formatter(cmd)

	w, release, err := o.NewWire(ctx, o)
	if err != nil {
		return f.Fail(ExitCommandError, err)
	}
	defer release()

	if err := w.Start(ctx); err != nil {
		if requireAuth {
			return f.Fail(ExitFailure, err)
		}
		f.VerboseLog("session restore failed: %v", err)
	}
	w.Coordinator.Wait()

	if requireAuth && !w.Auth.IsAuthenticated() {
		return f.Fail(ExitFailure, apperr.Unauthenticated())
	}
	return fn(ctx, w, f)
}
