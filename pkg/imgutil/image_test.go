package imgutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x * 255) / w)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestResizeDimensions(t *testing.T) {
	resized := Resize(gradient(640, 480), 320, 240)

	bounds := resized.Bounds()
	assert.Equal(t, 320, bounds.Dx())
	assert.Equal(t, 240, bounds.Dy())
}

func TestGrayscaleDimensionsAndRange(t *testing.T) {
	gray := Grayscale(gradient(64, 48))

	bounds := gray.Bounds()
	require.Equal(t, 64, bounds.Dx())
	require.Equal(t, 48, bounds.Dy())

	// Left edge is black, right edge near white.
	assert.Less(t, gray.GrayAt(0, 24).Y, uint8(8))
	assert.Greater(t, gray.GrayAt(63, 24).Y, uint8(240))
}

func TestEncodeJPEGIsDecodable(t *testing.T) {
	data, err := EncodeJPEG(gradient(64, 48), 90)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
}

func TestDataURL(t *testing.T) {
	url := DataURL(MIMEJPEG, []byte{0xff, 0xd8, 0xff})

	assert.True(t, IsImageDataURL(url))
	assert.Contains(t, url, "data:image/jpeg;base64,")
}

func TestIsImageDataURL(t *testing.T) {
	assert.True(t, IsImageDataURL("data:image/png;base64,aGk="))
	assert.False(t, IsImageDataURL("data:text/plain;base64,aGk="))
	assert.False(t, IsImageDataURL("https://example.com/image.jpg"))
}
