package pcie

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/areascan/internal/camera"
)

func openCamera(t *testing.T, dev *SimDevice, opts ...camera.Option) *camera.Camera {
	t.Helper()
	b, err := Open(DefaultPath, dev.Opener())
	require.NoError(t, err)
	c, err := camera.New(b, append([]camera.Option{camera.WithRingCapacity(4)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpen_EnumeratesRegisters(t *testing.T) {
	c := openCamera(t, NewSimDevice())

	tests := []struct {
		prop   string
		access camera.Access
	}{
		{"reg-status", camera.AccessRead},
		{"reg-reset", camera.AccessWrite},
		{"reg-control", camera.AccessReadWrite},
		{"reg-irq_status", camera.AccessReadWrite},
		{"reg-bit_mode", camera.AccessReadWrite},
	}
	for _, tt := range tests {
		t.Run(tt.prop, func(t *testing.T) {
			d, ok := c.Registry().Describe(tt.prop)
			require.True(t, ok)
			assert.Equal(t, tt.access, d.Access)
			assert.Equal(t, camera.KindUint, d.Kind)
		})
	}

	v, err := c.Get("reg-sensor_temperature")
	require.NoError(t, err)
	assert.Equal(t, uint64(1100), v.Uint())
}

func TestRegisterAccess(t *testing.T) {
	dev := NewSimDevice()
	c := openCamera(t, dev)

	require.NoError(t, c.Set("reg-control", camera.Uint(5)))
	raw, err := dev.ReadRegister("control")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), raw)

	// Write-one-to-clear: the cached value is what the device reads back.
	dev.SetRegister("irq_status", 0b1111)
	require.NoError(t, c.Set("reg-irq_status", camera.Uint(0b0101)))
	v, err := c.Get("reg-irq_status")
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1010), v.Uint())

	assert.ErrorIs(t, c.Set("reg-status", camera.Uint(1)), camera.ErrAccessViolation)
	_, err = c.Get("reg-reset")
	assert.ErrorIs(t, err, camera.ErrAccessViolation)
	assert.ErrorIs(t, c.Set("reg-control", camera.Uint(1<<40)), camera.ErrInvalidProperty)
}

func TestDerivedProperties(t *testing.T) {
	t.Run("48 MHz", func(t *testing.T) {
		c := openCamera(t, NewSimDevice())

		v, err := c.Get(PropSensorTemperature)
		require.NoError(t, err)
		assert.InDelta(t, 30.0, v.Double(), 1e-9)

		v, err = c.Get(PropFPGATemperature)
		require.NoError(t, err)
		assert.InDelta(t, 503.975/1024*655-273.15, v.Double(), 1e-9)

		v, err = c.Get(camera.PropSensorBitdepth)
		require.NoError(t, err)
		assert.Equal(t, uint64(12), v.Uint())

		size, err := c.FrameSize()
		require.NoError(t, err)
		assert.Equal(t, FrameSize, size)
	})

	t.Run("40 MHz", func(t *testing.T) {
		dev := NewSimDevice()
		dev.SetRegister("bit_mode", 1)
		dev.SetRegister("adc_resolution", 0)
		c := openCamera(t, dev)

		v, err := c.Get(PropSensorTemperature)
		require.NoError(t, err)
		assert.InDelta(t, -25.0, v.Double(), 1e-9)

		v, err = c.Get(camera.PropSensorBitdepth)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), v.Uint())
	})
}

func TestExposure(t *testing.T) {
	dev := NewSimDevice()
	c := openCamera(t, dev)

	require.NoError(t, c.Set(camera.PropExposureTime, camera.Double(0.01)))
	raw, err := dev.ReadRegister("cmosis_exp_time")
	require.NoError(t, err)
	assert.Equal(t, uint32(3721), raw)

	v, err := c.Get(camera.PropExposureTime)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, v.Double(), 1e-5)

	require.NoError(t, c.StartRecording(false))
	b := c.Backend().(*Backend)
	assert.InDelta(t, float64(60*time.Millisecond), float64(b.Timeout()), float64(time.Millisecond))
}

func TestOpen_Failures(t *testing.T) {
	_, err := Open(DefaultPath, func(string) (Device, error) { return nil, errors.New("no such device") })
	assert.ErrorIs(t, err, camera.ErrInitialization)

	dev := NewSimDevice()
	dev.SetRegister("adc_resolution", 7)
	_, err = Open(DefaultPath, dev.Opener())
	assert.ErrorIs(t, err, camera.ErrInitialization)
	assert.Equal(t, 1, dev.Closes())
}

func TestSyncGrab(t *testing.T) {
	dev := NewSimDevice(WithFrameInterval(0))
	c := openCamera(t, dev)
	require.NoError(t, c.StartRecording(false))

	buf := make([]byte, FrameSize)
	for i := 0; i < 3; i++ {
		f, err := c.Grab(buf)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), FrameCounter(f.Data))
	}
}

func TestSyncGrabFaults(t *testing.T) {
	t.Run("trigger", func(t *testing.T) {
		dev := NewSimDevice(WithFrameInterval(0))
		c := openCamera(t, dev)
		require.NoError(t, c.StartRecording(false))
		dev.SetTriggerError(errors.New("bus error"))
		_, err := c.Grab(nil)
		assert.ErrorIs(t, err, camera.ErrTrigger)
	})

	t.Run("event timeout", func(t *testing.T) {
		dev := NewSimDevice(WithFrameInterval(time.Second))
		c := openCamera(t, dev)
		require.NoError(t, c.StartRecording(false))
		_, err := c.Grab(nil)
		assert.ErrorIs(t, err, camera.ErrEventTimeout)
	})

	t.Run("no data", func(t *testing.T) {
		dev := NewSimDevice(WithFrameInterval(0))
		c := openCamera(t, dev)
		require.NoError(t, c.StartRecording(false))
		dev.FailNextData(1)
		_, err := c.Grab(nil)
		assert.ErrorIs(t, err, camera.ErrDataUnavailable)

		f, err := c.Grab(nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), FrameCounter(f.Data))
	})

	t.Run("return data", func(t *testing.T) {
		dev := NewSimDevice(WithFrameInterval(0))
		c := openCamera(t, dev)
		require.NoError(t, c.StartRecording(false))
		dev.SetReturnError(errors.New("dma descriptor lost"))
		f, err := c.Grab(nil)
		var warn *camera.IntegrityWarning
		require.ErrorAs(t, err, &warn)
		assert.ErrorIs(t, err, camera.ErrDataIntegrity)
		assert.Len(t, f.Data, FrameSize)
	})
}

func TestStreaming(t *testing.T) {
	dev := NewSimDevice(WithFrameInterval(time.Millisecond))
	c := openCamera(t, dev)

	require.NoError(t, c.StartRecording(true))
	dev.FailNextData(3)
	require.Eventually(t, func() bool { return c.Stats().Delivered >= 8 }, 5*time.Second, time.Millisecond)
	require.NoError(t, c.StopRecording())

	delivered := c.Stats().Delivered
	triggers := dev.Triggers()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, delivered, c.Stats().Delivered)
	assert.Equal(t, triggers, dev.Triggers())

	// Events without data were re-triggered, so device counters stay
	// consecutive in the ring.
	for i := 1; i < c.Frames(); i++ {
		prev, err := c.Frame(i - 1)
		require.NoError(t, err)
		cur, err := c.Frame(i)
		require.NoError(t, err)
		assert.Equal(t, FrameCounter(prev.Data)+1, FrameCounter(cur.Data))
		assert.Equal(t, prev.Seq+1, cur.Seq)
	}
	assert.Zero(t, c.Stats().Errors)
}

func TestStreaming_IntegrityWarningAfterDelivery(t *testing.T) {
	dev := NewSimDevice(WithFrameInterval(time.Millisecond))
	dev.SetReturnError(errors.New("dma descriptor lost"))

	var mu sync.Mutex
	var delivered []uint64
	var warnings []uint64
	c := openCamera(t, dev,
		camera.WithFrameHandler(func(f camera.Frame) {
			mu.Lock()
			delivered = append(delivered, f.Seq)
			mu.Unlock()
		}),
		camera.WithErrorHandler(func(err error) {
			var warn *camera.IntegrityWarning
			if errors.As(err, &warn) {
				mu.Lock()
				warnings = append(warnings, warn.Seq)
				mu.Unlock()
			}
		}),
	)

	require.NoError(t, c.StartRecording(true))
	require.Eventually(t, func() bool { return c.Stats().IntegrityWarnings >= 3 }, 5*time.Second, time.Millisecond)
	require.NoError(t, c.StopRecording())

	mu.Lock()
	defer mu.Unlock()
	for _, seq := range warnings {
		assert.Contains(t, delivered, seq, "warning for frame %d follows its delivery", seq)
	}
}

func TestReadoutNotImplemented(t *testing.T) {
	c := openCamera(t, NewSimDevice())
	require.NoError(t, c.StartRecording(false))
	assert.ErrorIs(t, c.StartReadout(), camera.ErrNotImplemented)
}

func TestClose_ReleasesOnce(t *testing.T) {
	dev := NewSimDevice()
	b, err := Open(DefaultPath, dev.Opener())
	require.NoError(t, err)
	c, err := camera.New(b, camera.WithRingCapacity(2))
	require.NoError(t, err)
	require.NoError(t, c.StartRecording(true))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, dev.Closes())
}

func TestConversions(t *testing.T) {
	assert.InDelta(t, 0.001, ExposureSeconds(ExposureRegister(0.001, 48), 48), 1e-6)
	assert.InDelta(t, 0.5, ExposureSeconds(ExposureRegister(0.5, 40), 40), 1e-6)
	assert.InDelta(t, -273.15, FPGATemperature(0), 1e-9)
}
