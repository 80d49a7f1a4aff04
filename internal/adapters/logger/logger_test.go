package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, "WARN", LevelWarn.String())
}

func TestZeroLogger_WritesFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, LevelInfo, FormatJSON)

	l.Error(context.Background(), errors.New("boom"), "order failed", map[string]interface{}{"instrument": "EUR_USD"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "order failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "EUR_USD", entry["instrument"])
}

func TestZeroLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, LevelWarn, FormatJSON)

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	l.With(map[string]interface{}{"component": "feed"}).Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), `"component":"feed"`)
	assert.Contains(t, buf.String(), "shown")
}
