// Package imgutil provides utility functions for image processing
package imgutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"strings"
)

// MIMEJPEG is the MIME type of images produced by EncodeJPEG.
const MIMEJPEG = "image/jpeg"

// Resize resizes an image using bilinear interpolation
func Resize(src image.Image, dstWidth, dstHeight int) image.Image {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))

	for y := 0; y < dstHeight; y++ {
		for x := 0; x < dstWidth; x++ {
			// Map to source coordinates
			srcX := float64(x) * float64(srcWidth) / float64(dstWidth)
			srcY := float64(y) * float64(srcHeight) / float64(dstHeight)

			r, g, b := SamplePixelBilinear(src, srcX, srcY)

			dst.Set(x, y, color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255})
		}
	}

	return dst
}

// SamplePixelBilinear samples a pixel using bilinear interpolation
func SamplePixelBilinear(img image.Image, x, y float64) (float64, float64, float64) {
	bounds := img.Bounds()
	x0 := int(math.Floor(x)) + bounds.Min.X
	y0 := int(math.Floor(y)) + bounds.Min.Y
	x1 := x0 + 1
	y1 := y0 + 1

	// Clamp to bounds
	if x0 < bounds.Min.X {
		x0 = bounds.Min.X
	}
	if y0 < bounds.Min.Y {
		y0 = bounds.Min.Y
	}
	if x1 >= bounds.Max.X {
		x1 = bounds.Max.X - 1
	}
	if y1 >= bounds.Max.Y {
		y1 = bounds.Max.Y - 1
	}

	fx := x - math.Floor(x)
	fy := y - math.Floor(y)

	r00, g00, b00 := pixelRGB(img, x0, y0)
	r10, g10, b10 := pixelRGB(img, x1, y0)
	r01, g01, b01 := pixelRGB(img, x0, y1)
	r11, g11, b11 := pixelRGB(img, x1, y1)

	r := lerp(lerp(r00, r10, fx), lerp(r01, r11, fx), fy)
	g := lerp(lerp(g00, g10, fx), lerp(g01, g11, fx), fy)
	b := lerp(lerp(b00, b10, fx), lerp(b01, b11, fx), fy)

	return r, g, b
}

func pixelRGB(img image.Image, x, y int) (float64, float64, float64) {
	r, g, b, _ := img.At(x, y).RGBA()
	return float64(r >> 8), float64(g >> 8), float64(b >> 8)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Grayscale converts an image to 8-bit grayscale using BT.601 weights
func Grayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			v := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 256.0
			gray.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.Gray{Y: uint8(clamp(v, 0, 255))})
		}
	}

	return gray
}

// EncodeJPEG encodes an image as JPEG at the given quality
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL renders encoded image bytes as a base64 data URL
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsImageDataURL reports whether s carries base64 image data
func IsImageDataURL(s string) bool {
	return strings.HasPrefix(s, "data:image/")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
