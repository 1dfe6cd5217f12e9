package simulated

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/areascan/internal/camera"
)

func newCamera(t *testing.T, opts ...Option) (*camera.Camera, *Backend) {
	t.Helper()
	b, err := New(opts...)
	require.NoError(t, err)
	c, err := camera.New(b, camera.WithRingCapacity(8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, b
}

func TestDrawAndDecodeCounter(t *testing.T) {
	frame := make([]byte, 64*16)
	for _, n := range []uint32{0, 7, 42, 123456789, 999999999} {
		drawCounter(frame, 64, n)
		got, ok := DecodeCounter(frame, 64)
		require.True(t, ok)
		assert.Equal(t, n, got)
	}
}

func TestDecodeCounter_NoCounter(t *testing.T) {
	_, ok := DecodeCounter(make([]byte, 64*16), 64)
	assert.False(t, ok)

	_, ok = DecodeCounter(make([]byte, 10), 5)
	assert.False(t, ok)
}

func TestGlyphsAreDistinct(t *testing.T) {
	for i := range glyphs {
		for j := i + 1; j < len(glyphs); j++ {
			assert.NotEqual(t, glyphs[i], glyphs[j], "digits %d and %d", i, j)
		}
	}
}

func TestSyncGrabCounter(t *testing.T) {
	c, _ := newCamera(t)
	require.NoError(t, c.StartRecording(false))

	for i := 0; i < 10; i++ {
		f, err := c.Grab(nil)
		require.NoError(t, err)
		require.Len(t, f.Data, DefaultWidth*DefaultHeight)
		n, ok := DecodeCounter(f.Data, DefaultWidth)
		require.True(t, ok)
		assert.Equal(t, uint32(i), n)
	}
}

func TestAsyncFramesCarryConsecutiveCounters(t *testing.T) {
	c, b := newCamera(t, WithSize(128, 32), WithFrameRate(1000))
	require.NoError(t, c.StartRecording(true))
	require.Eventually(t, func() bool { return b.Counter() >= 12 }, 2*time.Second, time.Millisecond)
	require.NoError(t, c.StopRecording())

	n := c.Frames()
	require.Equal(t, 8, n)
	var prev uint32
	for i := 0; i < n; i++ {
		f, err := c.Frame(i)
		require.NoError(t, err)
		got, ok := DecodeCounter(f.Data, 128)
		require.True(t, ok)
		assert.Equal(t, f.Seq, uint64(got))
		if i > 0 {
			assert.Equal(t, prev+1, got)
		}
		prev = got
	}
	assert.Equal(t, b.Counter()-1, prev, "latest frame holds the last counter")
}

func TestProperties(t *testing.T) {
	c, _ := newCamera(t)

	v, err := c.Get(camera.PropName)
	require.NoError(t, err)
	assert.Equal(t, "mock", v.Str())

	v, err = c.Get(camera.PropSensorHorizontalBinnings)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, v.UintArray())

	v, err = c.Get(camera.PropHasStreaming)
	require.NoError(t, err)
	assert.True(t, v.Bool())

	require.NoError(t, c.Set(camera.PropFrameRate, camera.Float(50)))
	v, err = c.Get(camera.PropFrameRate)
	require.NoError(t, err)
	assert.Equal(t, float32(50), v.Float())

	assert.ErrorIs(t, c.Set(camera.PropFrameRate, camera.Float(0.5)), camera.ErrInvalidProperty)
	assert.ErrorIs(t, c.Set(camera.PropSensorHorizontalBinning, camera.Uint(2)), camera.ErrInvalidProperty)
	assert.ErrorIs(t, c.Set(camera.PropROIWidth, camera.Uint(DefaultWidth+1)), camera.ErrInvalidProperty)
	assert.ErrorIs(t, c.Set(camera.PropTriggerMode, camera.String(camera.TriggerExternal)), camera.ErrInvalidProperty)
	assert.ErrorIs(t, c.Set(camera.PropSensorWidth, camera.Uint(1)), camera.ErrAccessViolation)

	require.NoError(t, c.Set(camera.PropExposureTime, camera.Double(0.02)))
	v, err = c.Get(camera.PropExposureTime)
	require.NoError(t, err)
	assert.Equal(t, 0.02, v.Double())
}

func TestReadoutNotImplemented(t *testing.T) {
	c, _ := newCamera(t)
	require.NoError(t, c.StartRecording(false))
	assert.ErrorIs(t, c.StartReadout(), camera.ErrNotImplemented)
	assert.Equal(t, camera.StateRecording, c.State())
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(WithSize(20, 20))
	assert.ErrorIs(t, err, camera.ErrInitialization)

	_, err = New(WithFrameRate(0))
	assert.ErrorIs(t, err, camera.ErrInitialization)

	_, err = New(WithSize(64, 16), WithPattern(make([]byte, 10)))
	assert.ErrorIs(t, err, camera.ErrInitialization)
}
