package logging

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	logger.Info().Msg("dropped")
	logger.Warn().Str("layer", "gullies").Msg("fetch failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "plat-map", entry["service"])
	assert.Equal(t, "gullies", entry["layer"])
	assert.Equal(t, "fetch failed", entry["message"])
}

func TestNewWithWriter_concurrent(t *testing.T) {
	bufs := make([]bytes.Buffer, 8)
	var wg sync.WaitGroup
	for i := range bufs {
		wg.Add(1)
		go func(buf *bytes.Buffer) {
			defer wg.Done()
			logger := NewWithWriter(buf, "info")
			logger.Info().Msg("started")
		}(&bufs[i])
	}
	wg.Wait()

	for i := range bufs {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(bufs[i].Bytes(), &entry))
		ts, ok := entry["time"].(string)
		require.True(t, ok)
		_, err := time.Parse(time.RFC3339Nano, ts)
		assert.NoError(t, err)
	}
}
