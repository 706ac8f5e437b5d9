package gateway

import (
	"context"
	"net/http"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
)

type authAPI struct {
	c *Client
}

// Login posts the credentials and returns the issued token. The response is
// {"token": "...", "User": {...}}; the user part may be missing.
func (a *authAPI) Login(ctx context.Context, creds core.Credentials) (LoginResult, error) {
	body, err := a.c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/login",
		resource:  "login",
		body:      creds,
		anonymous: true,
	})
	if err != nil {
		return LoginResult{}, err
	}
	resp, err := decodeEnvelope[string](body, "token")
	if err != nil {
		return LoginResult{}, err
	}
	if resp == "" {
		return LoginResult{}, &apperr.RemoteError{Message: "empty token", Status: http.StatusBadGateway}
	}
	user, err := decodeEnvelope[core.UserInfo](body, "User")
	if err != nil {
		// Older servers answer with the token only.
		user = core.UserInfo{Login: creds.Login}
	}
	if user.Login == "" {
		user.Login = creds.Login
	}
	return LoginResult{Token: resp, User: user}, nil
}

func (a *authAPI) Signup(ctx context.Context, info core.SignupInfo) (core.UserInfo, error) {
	return call[core.UserInfo](ctx, a.c, request{
		method:    http.MethodPost,
		path:      "/signup",
		resource:  "signup",
		body:      info,
		anonymous: true,
	}, "User")
}

func (a *authAPI) Logout(ctx context.Context) error {
	_, err := a.c.do(ctx, request{method: http.MethodPost, path: "/logout", resource: "logout"})
	return err
}
