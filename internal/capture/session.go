package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lumipay/kycscan/internal/camera"
	"github.com/lumipay/kycscan/internal/config"
	"github.com/lumipay/kycscan/pkg/imgutil"
	"github.com/sirupsen/logrus"
)

// Device is the capability a capture session needs from a camera. The V4L2
// implementation lives in internal/camera; tests use a fake.
type Device interface {
	Start() error
	Stop() error
	Close() error
	Frames() <-chan *camera.Frame
}

// OpenFunc opens a device for the given settings.
type OpenFunc func(camera.Settings) (Device, error)

// Session owns the one active camera stream. Any Acquire releases the
// previous stream first, and Release is safe to call at any time, so camera
// hardware can never stay locked after a step transition.
type Session struct {
	log  *logrus.Logger
	clk  clock.Clock
	open OpenFunc

	settings    map[camera.Role]camera.Settings
	warmup      time.Duration
	jpegQuality int

	mu   sync.Mutex
	role camera.Role
	dev  Device
	last image.Image
}

// NewSession creates a session controller. A nil open func uses the V4L2
// device layer.
func NewSession(cfg *config.Config, clk clock.Clock, log *logrus.Logger, open OpenFunc) *Session {
	if clk == nil {
		clk = clock.New()
	}
	if open == nil {
		open = func(set camera.Settings) (Device, error) {
			return camera.Open(set)
		}
	}

	return &Session{
		log:  log,
		clk:  clk,
		open: open,
		settings: map[camera.Role]camera.Settings{
			camera.RoleBack: {
				Device:      cfg.Camera.BackDevice,
				Width:       cfg.Camera.BackWidth,
				Height:      cfg.Camera.BackHeight,
				PixelFormat: cfg.Camera.PixelFormat,
			},
			camera.RoleFront: {
				Device:      cfg.Camera.FrontDevice,
				Width:       cfg.Camera.FrontWidth,
				Height:      cfg.Camera.FrontHeight,
				PixelFormat: cfg.Camera.PixelFormat,
			},
		},
		warmup:      time.Duration(cfg.Camera.WarmupMs) * time.Millisecond,
		jpegQuality: cfg.Capture.JPEGQuality,
	}
}

// Acquire opens and starts the camera for the given role, releasing any
// previously held stream first. When the device rejects the preferred format
// it is reopened once with relaxed settings before failing. Returned errors
// wrap the device error taxonomy sentinels.
func (s *Session) Acquire(role camera.Role) error {
	s.Release()

	set, ok := s.settings[role]
	if !ok {
		return classifyDeviceError(errors.New("unknown camera role " + string(role)))
	}

	dev, err := s.open(set)
	if err != nil {
		classified := classifyDeviceError(err)
		if !errors.Is(classified, ErrConstraint) {
			return classified
		}
		s.log.Warnf("Camera %s rejected %dx%d %s, retrying with relaxed settings: %v",
			set.Device, set.Width, set.Height, set.PixelFormat, err)
		dev, err = s.open(set.Relaxed())
		if err != nil {
			return classifyDeviceError(err)
		}
	}

	if err := dev.Start(); err != nil {
		_ = dev.Close()
		return classifyDeviceError(err)
	}

	// Give the camera time to warm up and produce valid frames
	if s.warmup > 0 {
		s.clk.Sleep(s.warmup)
	}

	s.mu.Lock()
	s.dev = dev
	s.role = role
	s.mu.Unlock()

	s.log.Infof("Acquired %s camera (%s)", role, set.Device)
	return nil
}

// Release stops and closes the held stream. Safe to call when nothing is held.
func (s *Session) Release() {
	s.mu.Lock()
	dev := s.dev
	role := s.role
	s.dev = nil
	s.role = ""
	s.last = nil
	s.mu.Unlock()

	if dev == nil {
		return
	}

	if err := dev.Stop(); err != nil {
		s.log.Warnf("Failed to stop %s camera: %v", role, err)
	}
	if err := dev.Close(); err != nil {
		s.log.Warnf("Failed to close %s camera: %v", role, err)
	}
	s.log.Infof("Released %s camera", role)
}

// Active returns the role of the currently held stream, if any.
func (s *Session) Active() (camera.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role, s.dev != nil
}

// Monitor runs the analyzer tick loop against the held stream, invoking
// observe with each reading. Frames that cannot be read are skipped, leaving
// the caller's previous reading in place. Monitor returns when ctx is
// cancelled or the stream is released.
func (s *Session) Monitor(ctx context.Context, an *Analyzer, interval time.Duration, observe func(Reading)) error {
	s.mu.Lock()
	dev := s.dev
	s.mu.Unlock()

	if dev == nil {
		return errors.New("no active camera session")
	}
	frames := dev.Frames()

	ticker := s.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame, open := latestFrame(frames)
			if !open {
				// Stream released under us; the monitor ends with it.
				return nil
			}
			if frame == nil {
				continue
			}

			img, err := frame.ToImage()
			if err != nil {
				s.log.Debugf("Skipping undecodable frame: %v", err)
				continue
			}

			// Retain the decoded frame so CaptureStill does not have to
			// compete with this loop over the channel.
			s.mu.Lock()
			if s.dev == dev {
				s.last = img
			}
			s.mu.Unlock()

			reading, ok := an.Analyze(img)
			if !ok {
				continue
			}
			observe(reading)
		}
	}
}

// CaptureStill encodes the most recent frame as a JPEG artifact. It returns
// ErrFrameNotReady when no decodable frame is available.
func (s *Session) CaptureStill() (Artifact, error) {
	s.mu.Lock()
	dev := s.dev
	s.mu.Unlock()

	if dev == nil {
		return Artifact{}, ErrFrameNotReady
	}

	var img image.Image
	if frame, _ := latestFrame(dev.Frames()); frame != nil {
		if decoded, err := frame.ToImage(); err == nil {
			img = decoded
		}
	}
	if img == nil {
		// The monitor loop may have drained the channel first; fall back to
		// the frame it retained.
		s.mu.Lock()
		img = s.last
		s.mu.Unlock()
	}
	if img == nil {
		return Artifact{}, ErrFrameNotReady
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return Artifact{}, ErrFrameNotReady
	}

	data, err := imgutil.EncodeJPEG(img, s.jpegQuality)
	if err != nil {
		return Artifact{}, err
	}

	return Artifact{
		Data:       data,
		MIME:       imgutil.MIMEJPEG,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: s.clk.Now(),
	}, nil
}

// latestFrame drains the channel and returns the newest frame. The second
// return value is false once the channel has been closed.
func latestFrame(frames <-chan *camera.Frame) (*camera.Frame, bool) {
	var latest *camera.Frame
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return latest, false
			}
			latest = frame
		default:
			return latest, true
		}
	}
}
