package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteIntervalPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intervals.png")
	intervals := []time.Duration{
		10 * time.Millisecond, 10 * time.Millisecond, 11 * time.Millisecond,
		9 * time.Millisecond, 25 * time.Millisecond,
	}
	require.NoError(t, writeIntervalPlot(path, intervals, "test"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", string(data[:8]))
}

func TestWriteIntervalPlot_Errors(t *testing.T) {
	dir := t.TempDir()
	assert.ErrorIs(t, writeIntervalPlot(filepath.Join(dir, "empty.png"), nil, "empty"), errNoIntervals)

	err := writeIntervalPlot(filepath.Join(dir, "intervals.bmp3"), []time.Duration{time.Millisecond}, "bad")
	assert.Error(t, err, "unsupported image format")
}
