package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_WithRotatingFile(t *testing.T) {
	pattern := filepath.Join(t.TempDir(), "api.%Y%m%d.log")

	log, closer, err := New(Options{Level: "info", FilePattern: pattern})
	require.NoError(t, err)
	defer closer.Close()

	log.Info("started")

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(pattern), "api.*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestNew_StdoutOnly(t *testing.T) {
	log, closer, err := New(Options{})
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.NoError(t, closer.Close())
}

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "a****@*******.com", SanitizedEmail("alice@example.com"))
	assert.Equal(t, "a@localhost", SanitizedEmail("a@localhost"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("alice"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("a@b@c"))
}

func TestSanitizedIdentifier(t *testing.T) {
	assert.Equal(t, "al***", SanitizedIdentifier("alice"))
	assert.Equal(t, "**", SanitizedIdentifier("al"))
	assert.Equal(t, "a****@*******.com", SanitizedIdentifier("alice@example.com"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("email=a@b.com&token=xyz"))
	assert.True(t, SanitizeQueryString("ACCESS_KEY=1"))
	assert.False(t, SanitizeQueryString("page=2&limit=10"))
	assert.False(t, SanitizeQueryString(""))
}

func TestAuditLogger_LevelsByOutcome(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	audit.LogAuthAttempt(AuditEvent{EventType: "login", AccountID: 7, Outcome: OutcomeLockedOut, FailureReason: "threshold_reached"})

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "locked_out", record["outcome"])
	assert.Equal(t, float64(7), record["account_id"])
	assert.Equal(t, "security", record["audit"])

	buf.Reset()
	audit.LogAuthAttempt(AuditEvent{EventType: "login", AccountID: 7, Outcome: OutcomeIssued})
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
}
