package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	tests := map[string]string{
		"alice@example.com": "a***e@example.com",
		"+1-555-0100":       "+*********0",
		"ab":                "**",
		"x@corp.io":         "*@corp.io",
	}
	for in, want := range tests {
		assert.Equal(t, want, Mask(in), in)
	}
}

func TestIsSecretKey(t *testing.T) {
	assert.True(t, IsSecretKey("Password"))
	assert.True(t, IsSecretKey("api_token"))
	assert.False(t, IsSecretKey("department"))
}

func TestRedact_Output(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Config{Level: "info", Format: "text", Output: &buf})
	require.NoError(t, err)

	l.Info("imported",
		"email", "alice@example.com",
		"db_password", "hunter2",
		slog.Group("record", slog.String("phone", "5550100"), slog.String("name", "Alice")),
	)

	out := buf.String()
	assert.NotContains(t, out, "alice@example.com")
	assert.Contains(t, out, "a***e@example.com")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, redactedValue)
	assert.Contains(t, out, "5*****0")
	assert.Contains(t, out, "Alice")
}

func TestRedact_EmptyValueKept(t *testing.T) {
	a := redact(slog.String("password", ""))
	assert.Equal(t, "", a.Value.String())
}
