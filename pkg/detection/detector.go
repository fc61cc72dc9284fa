package detection

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/menta2k/audioshelf/pkg/client"
	"github.com/menta2k/audioshelf/pkg/processing"
	"github.com/menta2k/audioshelf/pkg/types"
)

// DefaultPrompt asks the model for the focal subject of a cover image
const DefaultPrompt = `You locate the focal subject of a cover image for an audio clip.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (<= 20 words)",
  "tags": ["tag1", "tag2", "tag3"]
}

RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- cx, cy is the point a square thumbnail should be centered on.
- Prefer faces, people, instruments and text logos; else the most salient object.
- If no subject is found, return label "none" with cx 0.5 and cy 0.5.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// FocalPoint is a normalized point the crop should be centered on.
type FocalPoint struct {
	X          float64
	Y          float64
	Label      string
	Confidence float64
}

// Center is the focal point used when nothing better is known.
var Center = FocalPoint{X: 0.5, Y: 0.5, Label: "none"}

// Config holds detector settings
type Config struct {
	Model         string
	MaxDim        int
	Quality       int
	MinConfidence float64
	Logger        *log.Logger
}

// Detector suggests where to center a crop using a vision model
type Detector struct {
	client    client.VisionClient
	processor *processing.Processor
	config    Config
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, config Config) *Detector {
	if config.MaxDim <= 0 {
		config.MaxDim = 768
	}
	if config.Quality <= 0 {
		config.Quality = 85
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = 0.3
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard)
	}
	return &Detector{client: client, processor: processing.NewProcessor(), config: config}
}

// DetectSubject sends the image to the model and returns the cleaned result
func (d *Detector) DetectSubject(ctx context.Context, src types.SourceImage) (*types.AnalysisResult, error) {
	if src.Pixels == nil {
		return nil, fmt.Errorf("detect subject: source image is empty")
	}
	imgB64, err := d.processor.PrepareImageForModel(src.Pixels, "jpg", d.config.MaxDim, d.config.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image for model: %w", err)
	}

	result, err := d.client.LocateSubject(ctx, d.config.Model, DefaultPrompt, imgB64)
	if err != nil {
		return nil, fmt.Errorf("subject detection failed: %w", err)
	}

	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Tags = normalizeTags(result.Tags)
	result = validateResult(result)
	d.config.Logger.Debug("subject detected",
		"label", result.Primary.Label,
		"confidence", result.Primary.Confidence,
		"tags", strings.Join(result.Tags, ","),
		"description", result.Description)
	return result, nil
}

// SuggestFocus returns the point to center the crop on. Low-confidence or
// empty detections fall back to the image center.
func (d *Detector) SuggestFocus(ctx context.Context, src types.SourceImage) (FocalPoint, error) {
	result, err := d.DetectSubject(ctx, src)
	if err != nil {
		return Center, err
	}
	return d.focalPoint(result), nil
}

// Ping checks that the vision backend is reachable
func (d *Detector) Ping(ctx context.Context) error {
	return d.client.Ping(ctx)
}

func (d *Detector) focalPoint(result *types.AnalysisResult) FocalPoint {
	p := result.Primary
	if strings.EqualFold(p.Label, "none") || p.Confidence < d.config.MinConfidence {
		return Center
	}

	x, y := p.Cx, p.Cy
	if x == 0 && y == 0 && p.Box.W > 0 && p.Box.H > 0 {
		x, y = p.Box.X+p.Box.W/2, p.Box.Y+p.Box.H/2
	}
	return FocalPoint{
		X:          clamp(x, 0, 1),
		Y:          clamp(y, 0, 1),
		Label:      p.Label,
		Confidence: p.Confidence,
	}
}

// validateResult marks fallback answers from the client as "none"
func validateResult(result *types.AnalysisResult) *types.AnalysisResult {
	if strings.EqualFold(result.Primary.Label, "none") {
		return result
	}

	fallbackIndicators := []string{"unclear", "parse", "fallback", "non-json", "no json"}
	label := strings.ToLower(result.Primary.Label)
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) {
			result.Primary.Label = "none"
			result.Primary.Confidence = 0
			break
		}
	}

	result.Primary.Cx = clamp(result.Primary.Cx, 0, 1)
	result.Primary.Cy = clamp(result.Primary.Cy, 0, 1)
	result.Primary.Confidence = clamp(result.Primary.Confidence, 0, 1)
	return result
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox keeps a box inside the unit square
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
