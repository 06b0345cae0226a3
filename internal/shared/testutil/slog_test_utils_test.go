package testutil

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedSlogHandler(t *testing.T) {
	logger, handler := NewTestLogger(t)

	logger.Info("test message", slog.String("key", "value"))
	logger.With(slog.String("component", "store")).Error("error message", slog.Int("code", 500))

	records := handler.GetRecords()
	require.Len(t, records, 2)
	assert.True(t, handler.ContainsMessage("test message"))
	assert.True(t, handler.ContainsAttr("key", "value"))
	assert.True(t, handler.ContainsAttr("component", "store"), "child logger attrs are captured")
	assert.Len(t, handler.GetRecordsByLevel(slog.LevelError), 1)
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}
