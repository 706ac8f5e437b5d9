package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fintrack/internal/app"
	"fintrack/internal/auth"
	"fintrack/internal/core"
)

// passwordEnv supplies the password when --password is not given.
const passwordEnv = "FINTRACK_PASSWORD"

func password(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(passwordEnv)
}

func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var creds core.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.session(cmd, false, func(ctx context.Context, w *app.Wire, f *OutputFormatter) error {
				creds.Password = password(creds.Password)
				if err := w.Auth.Login(ctx, creds); err != nil {
					return f.Fail(ExitFailure, err)
				}
				w.Coordinator.Wait()
				st := w.Auth.State()
				return f.Success(st.User, func(out io.Writer) {
					fmt.Fprintf(out, "Signed in as %s\n", st.User.DisplayName())
				})
			})
		},
	}
	cmd.Flags().StringVarP(&creds.Login, "login", "l", "", "account login")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "password (or "+passwordEnv+")")
	return cmd
}

func NewSignupCommand(rootOpts *RootOptions) *cobra.Command {
	var info core.SignupInfo
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.session(cmd, false, func(ctx context.Context, w *app.Wire, f *OutputFormatter) error {
				info.Password = password(info.Password)
				user, err := w.Auth.Signup(ctx, info)
				if err != nil {
					return f.Fail(ExitFailure, err)
				}
				return f.Success(user, func(out io.Writer) {
					fmt.Fprintf(out, "Account %s created; run login to sign in\n", user.Login)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&info.Login, "login", "l", "", "account login")
	cmd.Flags().StringVarP(&info.Password, "password", "p", "", "password (or "+passwordEnv+")")
	cmd.Flags().StringVar(&info.Name, "name", "", "display name")
	return cmd
}

func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.session(cmd, false, func(ctx context.Context, w *app.Wire, f *OutputFormatter) error {
				if err := w.Auth.Logout(ctx); err != nil {
					return f.Fail(ExitFailure, err)
				}
				w.Auth.Wait()
				return f.Success(map[string]bool{"authenticated": false}, func(out io.Writer) {
					fmt.Fprintln(out, "Signed out")
				})
			})
		},
	}
}

type statusView struct {
	Authenticated bool        `json:"authenticated"`
	Status        auth.Status `json:"status"`
	User          string      `json:"user,omitempty"`
	Error         string      `json:"error,omitempty"`
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.session(cmd, false, func(ctx context.Context, w *app.Wire, f *OutputFormatter) error {
				st := w.Auth.State()
				view := statusView{Authenticated: st.IsAuthenticated, Status: st.Status}
				if st.User != nil {
					view.User = st.User.DisplayName()
				}
				if st.Error != nil {
					view.Error = st.Error.Message
				}
				return f.Success(view, func(out io.Writer) {
					if view.Authenticated {
						fmt.Fprintf(out, "Signed in as %s\n", view.User)
						return
					}
					fmt.Fprintln(out, "Not signed in")
				})
			})
		},
	}
}
