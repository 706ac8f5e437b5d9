package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fintrack/internal/app"
)

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write income and spending to the configured Google Sheet",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			exp, err := w.Exporter(ctx)
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			if err := w.LoadLedger(ctx); err != nil {
				return f.Fail(ExitFailure, err)
			}
			rng, err := exp.Export(ctx, w.Snapshot())
			if err != nil {
				return f.Fail(ExitFailure, err)
			}
			return f.Success(map[string]string{"range": rng}, func(out io.Writer) {
				fmt.Fprintf(out, "Exported to %s\n", rng)
			})
		}),
	}
}
