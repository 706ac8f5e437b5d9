package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Component: ComponentStore, Output: &buf})

	l.Info("fetched", FieldStore, "balance")
	l.WithComponent(ComponentAuth).Debug("login")

	out := buf.String()
	assert.Contains(t, out, "component=store")
	assert.Contains(t, out, "store=balance")
	assert.Contains(t, out, "component=auth")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().WithStore("credit").WithOperation(OpFetch).WithError(nil)
	assert.Len(t, f.ToSlice(), 4)
	assert.NotContains(t, f, FieldError)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := Discard()
	assert.Same(t, l, OrDiscard(l))
}
