// Package capture drives guided camera captures: frame-quality analysis,
// auto-capture triggering and camera session lifecycle.
package capture

import (
	"image"

	"github.com/lumipay/kycscan/internal/config"
	"github.com/lumipay/kycscan/pkg/imgutil"
)

// BrightnessLevel classifies the mean frame brightness.
type BrightnessLevel string

const (
	BrightnessGood      BrightnessLevel = "good"
	BrightnessTooDark   BrightnessLevel = "too_dark"
	BrightnessTooBright BrightnessLevel = "too_bright"
)

// BlurLevel classifies frame sharpness.
type BlurLevel string

const (
	BlurSharp  BlurLevel = "sharp"
	BlurBlurry BlurLevel = "blurry"
)

// AlignmentLevel classifies whether a document is present in the frame center.
type AlignmentLevel string

const (
	AlignmentAligned    AlignmentLevel = "aligned"
	AlignmentMisaligned AlignmentLevel = "misaligned"
)

// OverallLevel is the combined readiness classification.
type OverallLevel string

const (
	OverallReady    OverallLevel = "ready"
	OverallNotReady OverallLevel = "not_ready"
)

// Reading is the result of analyzing a single frame. It is transient state,
// recomputed on every analyzer tick.
type Reading struct {
	Brightness BrightnessLevel
	Blur       BlurLevel
	Alignment  AlignmentLevel
	Overall    OverallLevel
}

// Ready reports whether all component checks passed.
func (r Reading) Ready() bool {
	return r.Overall == OverallReady
}

// Analyzer computes quality readings from video frames.
// Analyze is pure with respect to pixel input: identical frames yield
// identical readings.
type Analyzer struct {
	cfg config.QualityConfig
}

// NewAnalyzer creates an analyzer with the given thresholds.
func NewAnalyzer(cfg config.QualityConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze classifies a frame. The second return value is false when the frame
// cannot be read (zero dimensions); callers keep their previous reading.
func (a *Analyzer) Analyze(img image.Image) (Reading, bool) {
	if img == nil {
		return Reading{}, false
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return Reading{}, false
	}

	// Downsample to a fixed analysis size so thresholds behave the same
	// across capture resolutions.
	sample := img
	if a.cfg.SampleWidth > 0 && a.cfg.SampleHeight > 0 &&
		(bounds.Dx() > a.cfg.SampleWidth || bounds.Dy() > a.cfg.SampleHeight) {
		sample = imgutil.Resize(img, a.cfg.SampleWidth, a.cfg.SampleHeight)
	}
	gray := imgutil.Grayscale(sample)

	reading := Reading{
		Brightness: a.classifyBrightness(meanChannelBrightness(sample)),
		Blur:       a.classifyBlur(laplacianEnergy(gray)),
		Alignment:  a.classifyAlignment(centerEdgeRatio(gray, a.cfg.RegionFracW, a.cfg.RegionFracH, a.cfg.EdgeDelta)),
	}

	if reading.Brightness == BrightnessGood && reading.Blur == BlurSharp && reading.Alignment == AlignmentAligned {
		reading.Overall = OverallReady
	} else {
		reading.Overall = OverallNotReady
	}

	return reading, true
}

func (a *Analyzer) classifyBrightness(mean float64) BrightnessLevel {
	switch {
	case mean < a.cfg.BrightnessLow:
		return BrightnessTooDark
	case mean > a.cfg.BrightnessHigh:
		return BrightnessTooBright
	default:
		return BrightnessGood
	}
}

func (a *Analyzer) classifyBlur(energy float64) BlurLevel {
	// A low Laplacian response means the frame lacks high-frequency detail.
	if energy < a.cfg.SharpnessMin {
		return BlurBlurry
	}
	return BlurSharp
}

func (a *Analyzer) classifyAlignment(ratio float64) AlignmentLevel {
	if ratio >= a.cfg.EdgeRatioMin {
		return AlignmentAligned
	}
	return AlignmentMisaligned
}

// meanChannelBrightness is the mean over all pixels of the per-pixel average
// of the three color channels, scaled to [0, 255].
func meanChannelBrightness(img image.Image) float64 {
	bounds := img.Bounds()

	var sum float64
	count := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			sum += float64(r+g+b) / 3.0 / 256.0
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// laplacianEnergy is the mean squared response of a 4-neighbor discrete
// Laplacian over the grayscale frame interior.
func laplacianEnergy(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w < 3 || h < 3 {
		return 0
	}

	var sum float64
	count := 0

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := int(gray.GrayAt(x, y).Y)
			lap := 4*c -
				int(gray.GrayAt(x-1, y).Y) -
				int(gray.GrayAt(x+1, y).Y) -
				int(gray.GrayAt(x, y-1).Y) -
				int(gray.GrayAt(x, y+1).Y)

			sum += float64(lap * lap)
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// centerEdgeRatio samples a centered sub-rectangle and returns the fraction
// of horizontal pixel-to-next-pixel deltas exceeding the edge threshold.
func centerEdgeRatio(gray *image.Gray, fracW, fracH float64, delta int) float64 {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	rw := int(float64(w) * fracW)
	rh := int(float64(h) * fracH)
	if rw < 2 || rh < 1 {
		return 0
	}

	x0 := (w - rw) / 2
	y0 := (h - rh) / 2

	edges := 0
	count := 0

	for y := y0; y < y0+rh; y++ {
		for x := x0; x < x0+rw-1; x++ {
			d := int(gray.GrayAt(x+1, y).Y) - int(gray.GrayAt(x, y).Y)
			if d < 0 {
				d = -d
			}
			if d > delta {
				edges++
			}
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return float64(edges) / float64(count)
}
