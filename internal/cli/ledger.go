package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"fintrack/internal/app"
	"fintrack/internal/core"
	"fintrack/internal/store"
)

// show renders a store's state, failing when its last fetch failed.
func show[T any](f *OutputFormatter, st store.State[T], text func(io.Writer, T)) error {
	if st.Error != nil {
		return f.Fail(ExitFailure, st.Error)
	}
	var v T
	if st.Data != nil {
		v = *st.Data
	}
	return f.Success(v, func(w io.Writer) { text(w, v) })
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// recordFlags are the flags shared by credit and spending writes.
type recordFlags struct {
	amount      string
	description string
	date        string
}

func (r *recordFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&r.amount, "amount", "a", "", "amount, e.g. 12.50")
	cmd.Flags().StringVarP(&r.description, "description", "d", "", "description")
	cmd.Flags().StringVar(&r.date, "date", "", "date YYYY-MM-DD (default today)")
}

func (r *recordFlags) parse() (core.Money, core.Date, error) {
	cents, err := core.ParseDecimalToCents(r.amount)
	if err != nil {
		return core.Money{}, core.Date{}, fmt.Errorf("amount: %w", err)
	}
	date := core.Today()
	if r.date != "" {
		if date, err = core.ParseDate(r.date); err != nil {
			return core.Money{}, core.Date{}, fmt.Errorf("date: %w", err)
		}
	}
	return core.Money{Cents: cents}, date, nil
}

// action runs fn in an authenticated session; usage errors from parse
// exit with ExitCommandError.
func (o *RootOptions) action(fn func(ctx context.Context, cmd *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return o.session(cmd, true, func(ctx context.Context, w *app.Wire, f *OutputFormatter) error {
			return fn(ctx, cmd, args, w, f)
		})
	}
}

func written(f *OutputFormatter, what string, v any, err error) error {
	if err != nil {
		return f.Fail(ExitFailure, err)
	}
	return f.Success(v, func(out io.Writer) { fmt.Fprintln(out, what) })
}

func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the balance",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(_ context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			return show(f, w.Stores.Balance.State(), func(out io.Writer, b core.Balance) {
				fmt.Fprintf(out, "Balance:  %s\nIncome:   %s\nExpenses: %s\n", b.Total, b.Income, b.Expenses)
			})
		}),
	}
}

func NewCreditsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credits",
		Aliases: []string{"income"},
		Short:   "List and edit income",
		Args:    cobra.NoArgs,
		RunE: rootOpts.action(func(_ context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			return show(f, w.Stores.Credits.State(), func(out io.Writer, items []core.Credit) {
				rows := make([][]any, 0, len(items))
				for _, c := range items {
					rows = append(rows, []any{c.ID, c.Date, c.Amount, c.Description})
				}
				f.Table(out, []any{"ID", "DATE", "AMOUNT", "DESCRIPTION"}, rows)
			})
		}),
	}

	var add, upd recordFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Record income",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			amount, date, err := add.parse()
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			rec, err := w.Orchestrator.AddIncome(ctx, core.CreditInput{Amount: amount, Description: add.description, Date: date})
			return written(f, fmt.Sprintf("Income %d recorded", rec.ID), rec, err)
		}),
	}
	add.bind(addCmd)

	updCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change income",
		Args:  cobra.ExactArgs(1),
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error {
			id, err := parseID(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			amount, date, err := upd.parse()
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			rec, err := w.Orchestrator.UpdateIncome(ctx, id, core.CreditInput{Amount: amount, Description: upd.description, Date: date})
			return written(f, fmt.Sprintf("Income %d updated", id), rec, err)
		}),
	}
	upd.bind(updCmd)

	delCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove income",
		Args:  cobra.ExactArgs(1),
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error {
			id, err := parseID(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			err = w.Orchestrator.DeleteIncome(ctx, id)
			return written(f, fmt.Sprintf("Income %d deleted", id), map[string]int64{"id": id}, err)
		}),
	}

	cmd.AddCommand(addCmd, updCmd, delCmd)
	return cmd
}

func NewSpendingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "spendings",
		Aliases: []string{"expenses"},
		Short:   "List and edit spending",
		Args:    cobra.NoArgs,
		RunE: rootOpts.action(func(_ context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			cats, _ := w.Stores.Categories.Data()
			names := make(map[int64]string, len(cats))
			for _, c := range cats {
				names[c.ID] = c.Name
			}
			return show(f, w.Stores.Spendings.State(), func(out io.Writer, items []core.Spending) {
				rows := make([][]any, 0, len(items))
				for _, s := range items {
					rows = append(rows, []any{s.ID, s.Date, s.Amount, names[s.CategoryID], s.Description})
				}
				f.Table(out, []any{"ID", "DATE", "AMOUNT", "CATEGORY", "DESCRIPTION"}, rows)
			})
		}),
	}

	var (
		add, upd       recordFlags
		addCat, updCat int64
	)
	input := func(r *recordFlags, category int64) (core.SpendingInput, error) {
		amount, date, err := r.parse()
		if err != nil {
			return core.SpendingInput{}, err
		}
		return core.SpendingInput{Amount: amount, Description: r.description, Date: date, CategoryID: category}, nil
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Record spending",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			in, err := input(&add, addCat)
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			rec, err := w.Orchestrator.AddSpending(ctx, in)
			return written(f, fmt.Sprintf("Spending %d recorded", rec.ID), rec, err)
		}),
	}
	add.bind(addCmd)
	addCmd.Flags().Int64VarP(&addCat, "category", "c", 0, "category id")

	updCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change spending",
		Args:  cobra.ExactArgs(1),
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error {
			id, err := parseID(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			in, err := input(&upd, updCat)
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			rec, err := w.Orchestrator.UpdateSpending(ctx, id, in)
			return written(f, fmt.Sprintf("Spending %d updated", id), rec, err)
		}),
	}
	upd.bind(updCmd)
	updCmd.Flags().Int64VarP(&updCat, "category", "c", 0, "category id")

	delCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove spending",
		Args:  cobra.ExactArgs(1),
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error {
			id, err := parseID(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			err = w.Orchestrator.DeleteSpending(ctx, id)
			return written(f, fmt.Sprintf("Spending %d deleted", id), map[string]int64{"id": id}, err)
		}),
	}

	cmd.AddCommand(addCmd, updCmd, delCmd)
	return cmd
}

func NewCategoriesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List and edit spending categories",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(_ context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			return show(f, w.Stores.Categories.State(), func(out io.Writer, items []core.Category) {
				rows := make([][]any, 0, len(items))
				for _, c := range items {
					limit := "-"
					if c.Limit.Cents > 0 {
						limit = c.Limit.String()
					}
					rows = append(rows, []any{c.ID, c.Name, c.Spent, limit})
				}
				f.Table(out, []any{"ID", "NAME", "SPENT", "LIMIT"}, rows)
			})
		}),
	}

	var name, limit string
	input := func() (core.CategoryInput, error) {
		in := core.CategoryInput{Name: name}
		if limit != "" {
			cents, err := core.ParseDecimalToCents(limit)
			if err != nil {
				return in, fmt.Errorf("limit: %w", err)
			}
			in.Limit = core.Money{Cents: cents}
		}
		return in, nil
	}
	flags := func(c *cobra.Command) {
		c.Flags().StringVarP(&name, "name", "n", "", "category name")
		c.Flags().StringVar(&limit, "limit", "", "monthly limit, e.g. 300")
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a category",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			in, err := input()
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			rec, err := w.Stores.Categories.Create(ctx, in)
			return written(f, fmt.Sprintf("Category %d created", rec.ID), rec, err)
		}),
	}
	flags(addCmd)

	updCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename a category or change its limit",
		Args:  cobra.ExactArgs(1),
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error {
			id, err := parseID(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			in, err := input()
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			rec, err := w.Stores.Categories.Update(ctx, id, in)
			return written(f, fmt.Sprintf("Category %d updated", id), rec, err)
		}),
	}
	flags(updCmd)

	delCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an unused category",
		Args:  cobra.ExactArgs(1),
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error {
			id, err := parseID(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			err = w.Stores.Categories.Delete(ctx, id)
			return written(f, fmt.Sprintf("Category %d deleted", id), map[string]int64{"id": id}, err)
		}),
	}

	cmd.AddCommand(addCmd, updCmd, delCmd)
	return cmd
}

func NewGoalsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "List and edit savings goals",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(_ context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			current, _ := w.Stores.CurrentGoal.Data()
			return show(f, w.Stores.Goals.State(), func(out io.Writer, items []core.Goal) {
				rows := make([][]any, 0, len(items))
				for _, g := range items {
					mark := ""
					if g.ID == current.ID {
						mark = "*"
					}
					rows = append(rows, []any{mark, g.ID, g.Name, g.Saved, g.Target, fmt.Sprintf("%.0f%%", g.Progress()), g.Deadline})
				}
				f.Table(out, []any{"", "ID", "NAME", "SAVED", "TARGET", "PROGRESS", "DEADLINE"}, rows)
			})
		}),
	}

	var name, target, deadline string
	input := func() (core.GoalInput, error) {
		in := core.GoalInput{Name: name}
		cents, err := core.ParseDecimalToCents(target)
		if err != nil {
			return in, fmt.Errorf("target: %w", err)
		}
		in.Target = core.Money{Cents: cents}
		if deadline != "" {
			if in.Deadline, err = core.ParseDate(deadline); err != nil {
				return in, fmt.Errorf("deadline: %w", err)
			}
		}
		return in, nil
	}
	flags := func(c *cobra.Command) {
		c.Flags().StringVarP(&name, "name", "n", "", "goal name")
		c.Flags().StringVarP(&target, "target", "t", "", "target amount")
		c.Flags().StringVar(&deadline, "deadline", "", "deadline YYYY-MM-DD")
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a goal",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			in, err := input()
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			rec, err := w.Orchestrator.CreateGoal(ctx, in)
			return written(f, fmt.Sprintf("Goal %d created", rec.ID), rec, err)
		}),
	}
	flags(addCmd)

	updCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a goal",
		Args:  cobra.ExactArgs(1),
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error {
			id, err := parseID(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			in, err := input()
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			rec, err := w.Orchestrator.UpdateGoal(ctx, id, in)
			return written(f, fmt.Sprintf("Goal %d updated", id), rec, err)
		}),
	}
	flags(updCmd)

	delCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a goal",
		Args:  cobra.ExactArgs(1),
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error {
			id, err := parseID(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			err = w.Orchestrator.DeleteGoal(ctx, id)
			return written(f, fmt.Sprintf("Goal %d deleted", id), map[string]int64{"id": id}, err)
		}),
	}

	currentCmd := &cobra.Command{
		Use:   "current",
		Short: "Show the goal savings count toward",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(_ context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			st := w.Stores.CurrentGoal.State()
			if st.Error != nil {
				return f.Fail(ExitFailure, st.Error)
			}
			return f.Success(st.Data, func(out io.Writer) {
				if st.Data == nil {
					fmt.Fprintln(out, "No current goal")
					return
				}
				g := *st.Data
				fmt.Fprintf(out, "%s: %s of %s (%.0f%%), %s to go\n", g.Name, g.Saved, g.Target, g.Progress(), g.Remaining())
			})
		}),
	}

	selectCmd := &cobra.Command{
		Use:   "select <id>",
		Short: "Make a goal the current one",
		Args:  cobra.ExactArgs(1),
		RunE: rootOpts.action(func(ctx context.Context, _ *cobra.Command, args []string, w *app.Wire, f *OutputFormatter) error {
			id, err := parseID(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, err)
			}
			g, err := w.Stores.CurrentGoal.Select(ctx, id)
			return written(f, fmt.Sprintf("Goal %d is now current", id), g, err)
		}),
	}

	cmd.AddCommand(addCmd, updCmd, delCmd, currentCmd, selectCmd)
	return cmd
}

func NewRecommendationsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recommendations",
		Short: "Show saving recommendations",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(_ context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			return show(f, w.Stores.Recommendations.State(), func(out io.Writer, items []core.Recommendation) {
				if len(items) == 0 {
					fmt.Fprintln(out, "No recommendations")
				}
				for _, r := range items {
					fmt.Fprintf(out, "- %s\n", r.Text)
				}
			})
		}),
	}
}

func NewRemindersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reminders",
		Short: "Show upcoming goal deadlines",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(_ context.Context, _ *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			return show(f, w.Stores.Reminders.State(), func(out io.Writer, items []core.Reminder) {
				rows := make([][]any, 0, len(items))
				for _, r := range items {
					rows = append(rows, []any{r.Date, r.Title})
				}
				f.Table(out, []any{"DATE", "REMINDER"}, rows)
			})
		}),
	}
}
