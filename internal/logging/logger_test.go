package logging

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesFileAndHistory(t *testing.T) {
	dir := t.TempDir()

	l, err := New(Config{Dir: dir, Level: LevelDebug, MaxHistory: 3})
	require.NoError(t, err)
	defer l.Close()

	log := l.Component("session")
	log.Info().Msg("one")
	log.Warn().Msg("two")
	log.Error().Msg("three")

	entries := l.History(0)
	require.Len(t, entries, 3, "history is capped at MaxHistory")
	assert.Equal(t, "one", entries[0].Message)
	assert.Equal(t, "three", entries[2].Message)
	assert.Equal(t, "session", entries[2].Component)
	assert.Equal(t, "error", entries[2].Level)

	data, err := os.ReadFile(l.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"two"`)
}

func TestNew_LevelFiltersHistory(t *testing.T) {
	l, err := New(Config{Level: LevelWarn})
	require.NoError(t, err)

	log := l.Component("x")
	log.Info().Msg("dropped")
	log.Warn().Msg("kept")

	entries := l.History(10)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Empty(t, l.LogPath())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(LevelDebug))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(LevelError))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}
