// Package gateway is the remote data boundary: one port per resource and an
// HTTP client that implements them against the finance API.
package gateway

import (
	"context"

	"fintrack/internal/core"
)

// Ports for outbound adapters.
type (
	// ListReader returns a whole collection.
	ListReader[T any] interface {
		List(ctx context.Context) ([]T, error)
	}

	// SingleReader returns one document, e.g. the balance.
	SingleReader[T any] interface {
		Get(ctx context.Context) (T, error)
	}

	// Writer creates, updates and deletes records of one resource.
	Writer[T, In any] interface {
		Create(ctx context.Context, in In) (T, error)
		Update(ctx context.Context, id int64, in In) (T, error)
		Delete(ctx context.Context, id int64) error
	}

	// Collection is a readable and writable list resource.
	Collection[T, In any] interface {
		ListReader[T]
		Writer[T, In]
	}

	// CurrentGoalAPI reads and selects the goal credits are saved toward.
	CurrentGoalAPI interface {
		SingleReader[core.Goal]
		Select(ctx context.Context, goalID int64) (core.Goal, error)
	}

	// AuthAPI covers the session endpoints.
	AuthAPI interface {
		Login(ctx context.Context, creds core.Credentials) (LoginResult, error)
		Signup(ctx context.Context, info core.SignupInfo) (core.UserInfo, error)
		Logout(ctx context.Context) error
	}

	// TokenSource supplies the bearer token for authenticated calls. An empty
	// token means no Authorization header is sent.
	TokenSource interface {
		Token() string
	}
)

// LoginResult is what a successful login yields.
type LoginResult struct {
	Token string
	User  core.UserInfo
}

// API bundles every port the stores need.
type API struct {
	Auth            AuthAPI
	Balance         SingleReader[core.Balance]
	Credits         Collection[core.Credit, core.CreditInput]
	Spendings       Collection[core.Spending, core.SpendingInput]
	Categories      Collection[core.Category, core.CategoryInput]
	Goals           Collection[core.Goal, core.GoalInput]
	CurrentGoal     CurrentGoalAPI
	Recommendations ListReader[core.Recommendation]
	Reminders       ListReader[core.Reminder]
}

type tokenKey struct{}

// WithToken pins the bearer token for calls made with ctx, overriding the
// client's TokenSource. Used when the source has already been cleared.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// ResolveToken returns the token pinned on ctx, or the one from ts.
func ResolveToken(ctx context.Context, ts TokenSource) string {
	if tok, ok := ctx.Value(tokenKey{}).(string); ok {
		return tok
	}
	if ts == nil {
		return ""
	}
	return ts.Token()
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }
