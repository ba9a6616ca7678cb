package capture

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/lumipay/kycscan/internal/camera"
	"github.com/lumipay/kycscan/internal/config"
	"github.com/lumipay/kycscan/pkg/imgutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vladimirvivien/go4vl/v4l2"
)

type fakeDevice struct {
	frames  chan *camera.Frame
	started bool
	stopped bool
	closed  bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{frames: make(chan *camera.Frame, 4)}
}

func (d *fakeDevice) Start() error                 { d.started = true; return nil }
func (d *fakeDevice) Stop() error                  { d.stopped = true; return nil }
func (d *fakeDevice) Close() error                 { d.closed = true; return nil }
func (d *fakeDevice) Frames() <-chan *camera.Frame { return d.frames }

func (d *fakeDevice) push(t *testing.T, f *camera.Frame) {
	t.Helper()
	select {
	case d.frames <- f:
	default:
		t.Fatal("fake device frame buffer full")
	}
}

func sessionConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Camera.WarmupMs = 0
	return cfg
}

// jpegFrame wraps an encoded test image in an MJPEG frame.
func jpegFrame(t *testing.T, w, h int) *camera.Frame {
	t.Helper()
	data, err := imgutil.EncodeJPEG(checkerboard(w, h, 4), 90)
	require.NoError(t, err)
	return &camera.Frame{
		Data:      data,
		Width:     w,
		Height:    h,
		Format:    v4l2.PixelFmtMJPEG,
		Timestamp: time.Now(),
	}
}

func TestSessionAcquireReleasesPreviousStream(t *testing.T) {
	devices := []*fakeDevice{newFakeDevice(), newFakeDevice()}
	var opened []camera.Settings
	calls := 0
	open := func(set camera.Settings) (Device, error) {
		opened = append(opened, set)
		dev := devices[calls]
		calls++
		return dev, nil
	}

	cfg := sessionConfig()
	session := NewSession(cfg, nil, newTestLogger(), open)

	require.NoError(t, session.Acquire(camera.RoleBack))
	role, active := session.Active()
	assert.Equal(t, camera.RoleBack, role)
	assert.True(t, active)
	assert.True(t, devices[0].started)
	assert.Equal(t, cfg.Camera.BackDevice, opened[0].Device)

	// Acquiring the front camera must tear down the back stream first.
	require.NoError(t, session.Acquire(camera.RoleFront))
	assert.True(t, devices[0].stopped)
	assert.True(t, devices[0].closed)
	role, active = session.Active()
	assert.Equal(t, camera.RoleFront, role)
	assert.True(t, active)
	assert.Equal(t, cfg.Camera.FrontDevice, opened[1].Device)

	session.Release()
	session.Release() // idempotent
	_, active = session.Active()
	assert.False(t, active)
	assert.True(t, devices[1].stopped)
	assert.True(t, devices[1].closed)
}

func TestSessionRetriesWithRelaxedSettingsOnConstraint(t *testing.T) {
	var opened []camera.Settings
	calls := 0
	open := func(set camera.Settings) (Device, error) {
		opened = append(opened, set)
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("set format: %w", syscall.EINVAL)
		}
		return newFakeDevice(), nil
	}

	session := NewSession(sessionConfig(), nil, newTestLogger(), open)
	require.NoError(t, session.Acquire(camera.RoleBack))

	require.Len(t, opened, 2)
	assert.NotZero(t, opened[0].Width)
	assert.Zero(t, opened[1].Width)
	assert.Zero(t, opened[1].Height)
	assert.Empty(t, opened[1].PixelFormat)
}

func TestSessionAcquireErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{"missing device", syscall.ENOENT, ErrNoDevice},
		{"unplugged device", syscall.ENODEV, ErrNoDevice},
		{"permission denied", syscall.EACCES, ErrPermissionDenied},
		{"device busy", syscall.EBUSY, ErrDeviceBusy},
		{"not a capture device", syscall.ENOTTY, ErrUnsupported},
		{"unknown failure", errors.New("boom"), ErrDeviceFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open := func(camera.Settings) (Device, error) {
				return nil, fmt.Errorf("open /dev/video0: %w", tt.openErr)
			}
			session := NewSession(sessionConfig(), nil, newTestLogger(), open)

			err := session.Acquire(camera.RoleBack)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.NotEmpty(t, UserMessage(err))
		})
	}
}

func TestSessionCaptureStill(t *testing.T) {
	dev := newFakeDevice()
	session := NewSession(sessionConfig(), nil, newTestLogger(), func(camera.Settings) (Device, error) {
		return dev, nil
	})

	// No stream held yet.
	_, err := session.CaptureStill()
	assert.ErrorIs(t, err, ErrFrameNotReady)

	require.NoError(t, session.Acquire(camera.RoleBack))

	// Stream held but no frame produced yet.
	_, err = session.CaptureStill()
	assert.ErrorIs(t, err, ErrFrameNotReady)

	dev.push(t, jpegFrame(t, 64, 48))
	artifact, err := session.CaptureStill()
	require.NoError(t, err)
	assert.False(t, artifact.Empty())
	assert.Equal(t, imgutil.MIMEJPEG, artifact.MIME)
	assert.Equal(t, 64, artifact.Width)
	assert.Equal(t, 48, artifact.Height)
	assert.True(t, imgutil.IsImageDataURL(artifact.DataURL()))
}

func TestSessionCaptureStillUsesNewestFrame(t *testing.T) {
	dev := newFakeDevice()
	session := NewSession(sessionConfig(), nil, newTestLogger(), func(camera.Settings) (Device, error) {
		return dev, nil
	})
	require.NoError(t, session.Acquire(camera.RoleBack))

	dev.push(t, jpegFrame(t, 32, 24))
	dev.push(t, jpegFrame(t, 64, 48))

	artifact, err := session.CaptureStill()
	require.NoError(t, err)
	assert.Equal(t, 64, artifact.Width)
}

func TestSessionCaptureStillRejectsUndecodableFrame(t *testing.T) {
	dev := newFakeDevice()
	session := NewSession(sessionConfig(), nil, newTestLogger(), func(camera.Settings) (Device, error) {
		return dev, nil
	})
	require.NoError(t, session.Acquire(camera.RoleBack))

	dev.push(t, &camera.Frame{Data: []byte("not a jpeg"), Format: v4l2.PixelFmtMJPEG})

	_, err := session.CaptureStill()
	assert.ErrorIs(t, err, ErrFrameNotReady)
}

func TestSessionCaptureStillAfterMonitorDrainsStream(t *testing.T) {
	dev := newFakeDevice()
	session := NewSession(sessionConfig(), nil, newTestLogger(), func(camera.Settings) (Device, error) {
		return dev, nil
	})
	require.NoError(t, session.Acquire(camera.RoleBack))

	dev.push(t, jpegFrame(t, 64, 48))

	// Let the monitor consume the only frame on the channel.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	analyzer := NewAnalyzer(sessionConfig().Quality)
	go func() {
		done <- session.Monitor(ctx, analyzer, 2*time.Millisecond, func(Reading) { cancel() })
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not observe a reading")
	}

	// The channel is empty now, but the still capture must not fail: the
	// session keeps the last frame the monitor decoded.
	artifact, err := session.CaptureStill()
	require.NoError(t, err)
	assert.Equal(t, 64, artifact.Width)
	assert.Equal(t, 48, artifact.Height)

	// The retained frame does not outlive its stream.
	session.Release()
	require.NoError(t, session.Acquire(camera.RoleBack))
	_, err = session.CaptureStill()
	assert.ErrorIs(t, err, ErrFrameNotReady)
}

func TestSessionMonitorObservesReadings(t *testing.T) {
	dev := newFakeDevice()
	session := NewSession(sessionConfig(), nil, newTestLogger(), func(camera.Settings) (Device, error) {
		return dev, nil
	})
	require.NoError(t, session.Acquire(camera.RoleBack))

	dev.push(t, jpegFrame(t, 64, 48))

	ctx, cancel := context.WithCancel(context.Background())
	readings := make(chan Reading, 16)
	done := make(chan error, 1)

	analyzer := NewAnalyzer(sessionConfig().Quality)
	go func() {
		done <- session.Monitor(ctx, analyzer, 5*time.Millisecond, func(r Reading) {
			select {
			case readings <- r:
			default:
			}
		})
	}()

	select {
	case r := <-readings:
		assert.True(t, r.Ready())
	case <-time.After(2 * time.Second):
		t.Fatal("no reading observed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on cancel")
	}
}

func TestSessionMonitorEndsWhenStreamCloses(t *testing.T) {
	dev := newFakeDevice()
	session := NewSession(sessionConfig(), nil, newTestLogger(), func(camera.Settings) (Device, error) {
		return dev, nil
	})
	require.NoError(t, session.Acquire(camera.RoleBack))

	done := make(chan error, 1)
	analyzer := NewAnalyzer(sessionConfig().Quality)
	go func() {
		done <- session.Monitor(context.Background(), analyzer, 5*time.Millisecond, func(Reading) {})
	}()

	close(dev.frames)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop when the stream closed")
	}
}

func TestSessionMonitorRequiresActiveStream(t *testing.T) {
	session := NewSession(sessionConfig(), nil, newTestLogger(), func(camera.Settings) (Device, error) {
		return newFakeDevice(), nil
	})

	analyzer := NewAnalyzer(sessionConfig().Quality)
	err := session.Monitor(context.Background(), analyzer, time.Millisecond, func(Reading) {})
	assert.Error(t, err)
}
