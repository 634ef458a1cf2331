package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-pipeline/internal/logger"
)

func restoreLevel(t *testing.T) {
	t.Helper()
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prev)
	})
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "expected json output")
	return entry
}

func TestNewSetsGlobalLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"Warn":  zerolog.WarnLevel,
		"ERROR": zerolog.ErrorLevel,
	}

	for input, want := range cases {
		t.Run("level_"+input, func(t *testing.T) {
			restoreLevel(t)

			var buf bytes.Buffer
			_, err := logger.New("production", input, &buf)
			require.NoError(t, err)
			assert.Equal(t, want, zerolog.GlobalLevel())
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	restoreLevel(t)

	_, err := logger.New("production", "not-a-level")
	assert.Error(t, err)
}

func TestComponentTagsEntries(t *testing.T) {
	restoreLevel(t)

	var buf bytes.Buffer
	base, err := logger.New("production", "info", &buf)
	require.NoError(t, err)

	log := logger.Component(*base, "pipeline")
	log.Info().Msg("hello")

	assert.Equal(t, "pipeline", decodeEntry(t, &buf)["component"])
}

func TestComponentZeroParentIsNop(t *testing.T) {
	log := logger.Component(zerolog.Logger{}, "anything")
	assert.Equal(t, zerolog.Disabled, log.GetLevel())
}

func TestServiceTagsNameAndVersion(t *testing.T) {
	var buf bytes.Buffer
	log := logger.Service(zerolog.New(&buf), "notifyd", "1.2.0")
	log.Info().Msg("started")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "notifyd", entry["service"])
	assert.Equal(t, "1.2.0", entry["version"])

	buf.Reset()
	log = logger.Service(zerolog.New(&buf), "notifyd", "")
	log.Info().Msg("started")
	assert.NotContains(t, decodeEntry(t, &buf), "version")
}
