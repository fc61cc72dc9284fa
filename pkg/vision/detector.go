// Package vision finds the most salient part of an image locally, without a
// vision model. It is the auto crop fallback when no model is configured.
package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"

	"github.com/menta2k/audioshelf/pkg/detection"
	"github.com/menta2k/audioshelf/pkg/errors"
	"github.com/menta2k/audioshelf/pkg/types"
)

// minScore separates real structure from rounding noise in flat images
const minScore = 1e-6

// SubjectDetector scores image regions by local contrast and edge strength
type SubjectDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	// SampleDim is the longest edge the image is reduced to before scoring
	SampleDim      int
	EdgeWeight     float64
	ContrastWeight float64
	// WindowFraction is the search window edge as a share of the shorter side
	WindowFraction float64
	MaxRegions     int
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return NewWithConfig(DetectionConfig{})
}

// NewWithConfig creates a new SubjectDetector. Zero fields take defaults.
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	if config.SampleDim <= 0 {
		config.SampleDim = 96
	}
	if config.EdgeWeight <= 0 && config.ContrastWeight <= 0 {
		config.EdgeWeight = 0.6
		config.ContrastWeight = 0.4
	}
	if config.WindowFraction <= 0 || config.WindowFraction > 1 {
		config.WindowFraction = 0.25
	}
	if config.MaxRegions <= 0 {
		config.MaxRegions = 5
	}
	return &SubjectDetector{config: config}
}

// Region is a window of the sampled image, in sample pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (float64, float64) {
	return float64(r.X) + float64(r.Width)/2, float64(r.Y) + float64(r.Height)/2
}

// Sample reduces img to fit SampleDim.
func (d *SubjectDetector) Sample(img image.Image) *image.NRGBA {
	return imaging.Fit(img, d.config.SampleDim, d.config.SampleDim, imaging.Box)
}

// SaliencyMap scores every pixel of img in [0, 1]. Rows are y.
func (d *SubjectDetector) SaliencyMap(img *image.NRGBA) *mat.Dense {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	lum := make([]float64, w*h)
	var total float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := luminance(img, b.Min.X+x, b.Min.Y+y)
			lum[y*w+x] = l
			total += l
		}
	}
	mean := total / float64(len(lum))

	weights := d.config.EdgeWeight + d.config.ContrastWeight
	m := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := lum[y*w+x]
			var edge float64
			var n int
			for _, o := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				nx, ny := x+o[0], y+o[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				edge += math.Abs(l - lum[ny*w+nx])
				n++
			}
			if n > 0 {
				edge /= float64(n)
			}
			contrast := math.Abs(l - mean)
			m.Set(y, x, (d.config.EdgeWeight*edge+d.config.ContrastWeight*contrast)/weights)
		}
	}
	return m
}

// DetectSubjects returns the highest scoring non-overlapping windows of the
// sampled image, best first.
func (d *SubjectDetector) DetectSubjects(img *image.NRGBA) []Region {
	return d.regions(d.SaliencyMap(img))
}

func (d *SubjectDetector) regions(m *mat.Dense) []Region {
	h, w := m.Dims()
	win := int(math.Round(float64(min(w, h)) * d.config.WindowFraction))
	if win < 1 {
		win = 1
	}
	step := max(1, win/4)
	sums := integral(m)

	var candidates []Region
	for y := 0; y+win <= h; y += step {
		for x := 0; x+win <= w; x += step {
			score := windowSum(sums, w, x, y, win, win) / float64(win*win)
			if score < minScore {
				continue
			}
			candidates = append(candidates, Region{X: x, Y: y, Width: win, Height: win, Score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	var picked []Region
	for _, c := range candidates {
		if len(picked) == d.config.MaxRegions {
			break
		}
		overlaps := false
		for _, p := range picked {
			if intersects(c, p) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			picked = append(picked, c)
		}
	}
	return picked
}

// SuggestFocus centers on the saliency-weighted centroid of the best window.
// Images without any contrast get the image center.
func (d *SubjectDetector) SuggestFocus(ctx context.Context, src types.SourceImage) (detection.FocalPoint, error) {
	if err := ctx.Err(); err != nil {
		return detection.Center, err
	}
	if src.Pixels == nil || src.NaturalWidth <= 0 || src.NaturalHeight <= 0 {
		return detection.Center, errors.New(errors.ErrCodeInvalidImage, "source image is empty")
	}

	m := d.SaliencyMap(d.Sample(src.Pixels))
	regions := d.regions(m)
	if len(regions) == 0 {
		return detection.Center, nil
	}
	best := regions[0]

	var sx, sy, sw float64
	for y := best.Y; y < best.Y+best.Height; y++ {
		for x := best.X; x < best.X+best.Width; x++ {
			v := m.At(y, x)
			sx += (float64(x) + 0.5) * v
			sy += (float64(y) + 0.5) * v
			sw += v
		}
	}
	cx, cy := best.Center()
	if sw > 0 {
		cx, cy = sx/sw, sy/sw
	}

	h, w := m.Dims()
	mean := mat.Sum(m) / float64(w*h)
	return detection.FocalPoint{
		X:          clamp(cx/float64(w), 0, 1),
		Y:          clamp(cy/float64(h), 0, 1),
		Label:      "salient region",
		Confidence: best.Score / (best.Score + mean),
	}, nil
}

func luminance(img *image.NRGBA, x, y int) float64 {
	c := img.NRGBAAt(x, y)
	a := float64(c.A) / 255
	return (0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)) / 255 * a
}

// integral builds a summed-area table with one row and column of padding.
func integral(m *mat.Dense) []float64 {
	h, w := m.Dims()
	sums := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += m.At(y, x)
			sums[(y+1)*(w+1)+x+1] = sums[y*(w+1)+x+1] + row
		}
	}
	return sums
}

func windowSum(sums []float64, w, x, y, ww, wh int) float64 {
	stride := w + 1
	return sums[(y+wh)*stride+x+ww] - sums[y*stride+x+ww] - sums[(y+wh)*stride+x] + sums[y*stride+x]
}

func intersects(a, b Region) bool {
	return a.X < b.X+b.Width && b.X < a.X+a.Width && a.Y < b.Y+b.Height && b.Y < a.Y+a.Height
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
