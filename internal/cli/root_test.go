package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/app"
	"fintrack/internal/auth"
	"fintrack/internal/config"
	"fintrack/internal/core"
)

type harness struct {
	t *testing.T
	w *app.Wire
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	w, err := app.NewWire(context.Background(), app.Options{
		Config:   &config.Config{DataBackend: "memory", APITimeout: time.Second},
		Sessions: auth.NewMemorySessions(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return &harness{t: t, w: w}
}

// run executes one command against the shared wire and returns stdout,
// stderr and the exit code.
func (h *harness) run(args ...string) (string, string, int) {
	h.t.Helper()
	opts := &RootOptions{NewWire: func(context.Context, *RootOptions) (*app.Wire, func() error, error) {
		return h.w, func() error { return nil }, nil
	}}
	cmd := NewRootCommandWith(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), GetExitCode(err)
}

func decode(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fintrack", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"login", "signup", "logout", "status", "balance", "credits", "spendings",
		"categories", "goals", "recommendations", "reminders", "watch", "export"}

	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	sub, _, err := cmd.Find([]string{"goals", "select"})
	require.NoError(t, err)
	assert.Equal(t, "select", sub.Name())
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	_, stderr, code := h.run("status", "--format", "yaml")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid format")
}

func TestSignedOutCommandsFail(t *testing.T) {
	h := newHarness(t)

	out, _, code := h.run("status")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Not signed in")

	out, _, code = h.run("balance", "--format", "json")
	assert.Equal(t, ExitFailure, code)
	resp := decode(t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "unauthenticated", resp.Error.Code)
}

func TestLedgerFlow(t *testing.T) {
	h := newHarness(t)

	out, _, code := h.run("signup", "-l", "anna", "-p", "pw", "--name", "Anna")
	require.Equal(t, ExitSuccess, code, out)
	assert.False(t, h.w.Auth.IsAuthenticated())

	_, stderr, code := h.run("login", "-l", "anna", "-p", "wrong")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "Неверный логин или пароль")

	out, _, code = h.run("login", "-l", "anna", "-p", "pw")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Signed in as Anna")

	out, _, code = h.run("credits", "add", "-a", "100.50", "-d", "salary", "--date", "2025-03-01")
	require.Equal(t, ExitSuccess, code, out)

	out, _, code = h.run("balance")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "100.50")

	cats, ok := h.w.Stores.Categories.Data()
	require.True(t, ok)
	require.NotEmpty(t, cats)
	catID := cats[0].ID

	out, _, code = h.run("spendings", "add", "-a", "20", "-c", itoa(catID))
	require.Equal(t, ExitSuccess, code, out)

	out, _, code = h.run("credits", "--format", "json")
	require.Equal(t, ExitSuccess, code)
	resp := decode(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data, 1)

	out, _, code = h.run("balance", "--format", "json")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, `"total":80.50`)

	out, _, code = h.run("goals", "add", "-n", "Car", "-t", "1000")
	require.Equal(t, ExitSuccess, code, out)
	out, _, code = h.run("goals", "current")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Car: 80.50 of 1000.00")

	_, stderr, code = h.run("credits", "delete", "abc")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid id")

	out, _, code = h.run("logout")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Signed out")

	_, _, code = h.run("credits")
	assert.Equal(t, ExitFailure, code)
	_, ok = h.w.Stores.Credits.Data()
	assert.False(t, ok, "sign-out resets every store")
}

func TestExportNotConfigured(t *testing.T) {
	h := newHarness(t)
	_, err := h.w.Memory.Register(authSignup())
	require.NoError(t, err)
	_, _, code := h.run("login", "-l", "bob", "-p", "pw")
	require.Equal(t, ExitSuccess, code)

	_, stderr, code := h.run("export")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "GOOGLE_SPREADSHEET_ID")
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func authSignup() core.SignupInfo {
	return core.SignupInfo{Login: "bob", Password: "pw"}
}
