package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	lvl, err = parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	_, err = parseLevel("verbose")
	assert.Error(t, err)
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestWith_CarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := FromZap(zap.New(core)).With(Stage("score"))

	log.Info("scored", StoryID(42), Int("score", 80))
	log.Debug("hidden")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "scored", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "score", fields["stage"])
	assert.Equal(t, int64(42), fields["story_id"])
}
