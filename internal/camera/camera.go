// Package camera provides video capture functionality using V4L2
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// Role identifies the logical camera a capture step needs.
type Role string

const (
	// RoleBack is the document-facing camera, preferring a higher resolution.
	RoleBack Role = "back"
	// RoleFront is the user-facing camera used for selfie capture.
	RoleFront Role = "front"
)

// Settings describes how to open a device.
// Width/Height/PixelFormat are preferences; zero values mean
// "whatever the device negotiates" (relaxed mode).
type Settings struct {
	Device      string
	Width       int
	Height      int
	PixelFormat string
}

// Relaxed returns a copy of the settings with all format preferences dropped.
func (s Settings) Relaxed() Settings {
	return Settings{Device: s.Device}
}

// Frame represents a captured video frame
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    v4l2.FourCCType
	Timestamp time.Time
}

// ToImage converts the frame to a Go image.Image
func (f *Frame) ToImage() (image.Image, error) {
	switch f.Format {
	case v4l2.PixelFmtMJPEG:
		return jpeg.Decode(bytes.NewReader(f.Data))
	case v4l2.PixelFmtYUYV:
		return yuyvToRGB(f.Data, f.Width, f.Height)
	case v4l2.PixelFmtRGB24:
		return rgb24ToImage(f.Data, f.Width, f.Height)
	case v4l2.PixelFmtGrey:
		return greyToImage(f.Data, f.Width, f.Height)
	default:
		return nil, fmt.Errorf("unsupported pixel format: %v", f.Format)
	}
}

// Camera represents a V4L2 camera device
type Camera struct {
	device    *device.Device
	settings  Settings
	frameChan chan *Frame
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
}

// Open opens a camera device. Format preferences in the settings are applied
// when present; opening fails if the device cannot satisfy them.
func Open(settings Settings) (*Camera, error) {
	var opts []device.Option
	if settings.Width > 0 && settings.Height > 0 {
		opts = append(opts, device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: fourCCForName(settings.PixelFormat),
			Width:       uint32(settings.Width),
			Height:      uint32(settings.Height),
		}))
	}

	dev, err := device.Open(settings.Device, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera device %s: %w", settings.Device, err)
	}

	return &Camera{
		device:    dev,
		settings:  settings,
		frameChan: make(chan *Frame, 4),
	}, nil
}

// Start begins video capture
func (c *Camera) Start() error {
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if err := c.device.Start(c.ctx); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}

	go c.captureLoop()

	return nil
}

// Stop stops video capture
func (c *Camera) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}

	if c.device != nil {
		if err := c.device.Stop(); err != nil {
			return fmt.Errorf("failed to stop camera: %w", err)
		}
	}

	return nil
}

// Frames returns the frame channel for streaming (thread-safe)
func (c *Camera) Frames() <-chan *Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frameChan
}

// captureLoop continuously captures frames from the camera
func (c *Camera) captureLoop() {
	frameChan := c.device.GetOutput()

	for {
		select {
		case <-c.ctx.Done():
			// Drain any remaining frames to prevent goroutine leak
			go func() {
				for range c.frameChan {
					// Discard frames
				}
			}()
			close(c.frameChan)
			return
		case buf, ok := <-frameChan:
			if !ok {
				close(c.frameChan)
				return
			}

			// Make a copy of the buffer data
			dataCopy := make([]byte, len(buf))
			copy(dataCopy, buf)

			frame := &Frame{
				Data:      dataCopy,
				Width:     c.settings.Width,
				Height:    c.settings.Height,
				Format:    fourCCForName(c.settings.PixelFormat),
				Timestamp: time.Now(),
			}

			// Non-blocking send with drop-oldest strategy to prevent memory buildup
			select {
			case c.frameChan <- frame:
			case <-c.ctx.Done():
				return
			default:
				// Channel full, drop oldest frame and try again
				select {
				case <-c.frameChan:
				default:
				}
				select {
				case c.frameChan <- frame:
				default:
					// Still can't send, drop this frame
				}
			}
		}
	}
}

// Close releases camera resources
func (c *Camera) Close() error {
	_ = c.Stop()

	if c.device != nil {
		return c.device.Close()
	}
	return nil
}

// GetSupportedFormats returns the list of supported pixel formats
func (c *Camera) GetSupportedFormats() ([]v4l2.FormatDescription, error) {
	return c.device.GetFormatDescriptions()
}

func fourCCForName(name string) v4l2.FourCCType {
	switch name {
	case "GREY":
		return v4l2.PixelFmtGrey
	case "YUYV":
		return v4l2.PixelFmtYUYV
	case "RGB24":
		return v4l2.PixelFmtRGB24
	case "MJPEG", "":
		return v4l2.PixelFmtMJPEG
	default:
		// For unknown formats, try grayscale
		return v4l2.PixelFmtGrey
	}
}

// Helper functions for format conversion

func yuyvToRGB(data []byte, width, height int) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x += 2 {
			// YUYV is 4 bytes for 2 pixels
			idx := (y*width + x) * 2
			if idx+3 >= len(data) {
				break
			}

			Y0 := int(data[idx])
			U := int(data[idx+1]) - 128
			Y1 := int(data[idx+2])
			V := int(data[idx+3]) - 128

			r0, g0, b0 := yuvToRGB(Y0, U, V)
			r1, g1, b1 := yuvToRGB(Y1, U, V)

			img.Set(x, y, color.RGBA{R: r0, G: g0, B: b0, A: 255})
			if x+1 < width {
				img.Set(x+1, y, color.RGBA{R: r1, G: g1, B: b1, A: 255})
			}
		}
	}

	return img, nil
}

func yuvToRGB(y, u, v int) (uint8, uint8, uint8) {
	// BT.601 conversion
	c := y - 16
	d := u
	e := v

	R := (298*c + 409*e + 128) >> 8
	G := (298*c - 100*d - 208*e + 128) >> 8
	B := (298*c + 516*d + 128) >> 8

	return clampUint8(R), clampUint8(G), clampUint8(B)
}

func clampUint8(val int) uint8 {
	if val < 0 {
		return 0
	}
	if val > 255 {
		return 255
	}
	return uint8(val)
}

func rgb24ToImage(data []byte, width, height int) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := (y*width + x) * 3
			if idx+2 >= len(data) {
				break
			}

			img.Set(x, y, color.RGBA{R: data[idx], G: data[idx+1], B: data[idx+2], A: 255})
		}
	}

	return img, nil
}

func greyToImage(data []byte, width, height int) (image.Image, error) {
	img := image.NewGray(image.Rect(0, 0, width, height))
	copy(img.Pix, data)
	return img, nil
}
