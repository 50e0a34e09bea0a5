package logging

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFields(t *testing.T) {
	l, hook := logtest.NewNullLogger()
	logger := New(l)

	logger.Info("report stored",
		Field{Key: "id", Value: "abc"},
		Field{Key: "samples", Value: 3},
		Field{Key: "error", Value: errors.New("boom")})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "report stored", entry.Message)
	assert.Equal(t, "abc", entry.Data["id"])
	assert.Equal(t, 3, entry.Data["samples"])
	assert.Equal(t, "boom", entry.Data["error"])
}

func TestLoggerLevelFilter(t *testing.T) {
	l, hook := logtest.NewNullLogger()
	logger := New(l)
	logger.SetLevel(LevelWarn)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown")
	assert.Len(t, hook.AllEntries(), 2)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"":        LevelInfo,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("nothing happens")
	assert.NotNil(t, logger.FieldLogger())
}
