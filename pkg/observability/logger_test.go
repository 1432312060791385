package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEntry struct {
	Level        string `json:"level"`
	Message      string `json:"msg"`
	Error        string `json:"error"`
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	DepartmentID string `json:"department_id"`
	Role         string `json:"role"`
	Panic        string `json:"panic"`
	Context      string `json:"context"`
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) logEntry {
	t.Helper()
	var entry logEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.Infof("role %s created", "grader")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "role grader created", entry.Message)

	buf.Reset()
	logger.Warn("careful")
	assert.Equal(t, "WARN", decodeEntry(t, &buf).Level)

	buf.Reset()
	logger.Errorf("failed %d", 1)
	assert.Equal(t, "ERROR", decodeEntry(t, &buf).Level)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{" warn ", WarnLevel},
		{"error", ErrorLevel},
		{"verbose", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.in))
		})
	}
	assert.Equal(t, "WARN", WarnLevel.String())
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("role", "grader").
		WithFields(map[string]interface{}{"user_id": "u1"}).
		WithError(errors.New("boom")).
		Debug("with fields")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "grader", entry.Role)
	assert.Equal(t, "u1", entry.UserID)
	assert.Equal(t, "boom", entry.Error)

	assert.Same(t, logger, logger.WithError(nil))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithUserID(ctx, "u1")
	ctx = WithSessionID(ctx, "s1")
	ctx = WithDepartmentID(ctx, "physics")

	assert.Equal(t, "u1", GetUserID(ctx))
	assert.Equal(t, "s1", GetSessionID(ctx))
	assert.Equal(t, "physics", GetDepartmentID(ctx))

	FromContext(ctx).Info("evaluated")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "u1", entry.UserID)
	assert.Equal(t, "s1", entry.SessionID)
	assert.Equal(t, "physics", entry.DepartmentID)

	buf.Reset()
	FromContext(WithLogger(context.Background(), logger)).Info("bare")
	entry = decodeEntry(t, &buf)
	assert.Empty(t, entry.UserID)

	assert.Empty(t, GetUserID(context.Background()))
	assert.NotNil(t, GetLogger(context.Background()))
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer logger.RecoverPanic("refresh job")
		panic("snapshot exploded")
	}()

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "panic recovered", entry.Message)
	assert.Equal(t, "snapshot exploded", entry.Panic)
	assert.Equal(t, "refresh job", entry.Context)
}
