package types

import "image"

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Primary represents the primary subject detected in an image
type Primary struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}

// AnalysisResult contains the complete analysis result from the vision model
type AnalysisResult struct {
	Primary     Primary  `json:"primary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// SourceImage is a decoded image together with the size it was shown at
// while the crop was selected. Pixels must not be mutated once loaded.
type SourceImage struct {
	Pixels          *image.NRGBA
	NaturalWidth    int
	NaturalHeight   int
	DisplayedWidth  int
	DisplayedHeight int
	Name            string
}

// WithDisplaySize returns a copy of s that records a different on-screen size.
// Non-positive values fall back to the natural size.
func (s SourceImage) WithDisplaySize(w, h int) SourceImage {
	if w <= 0 || h <= 0 {
		w, h = s.NaturalWidth, s.NaturalHeight
	}
	s.DisplayedWidth = w
	s.DisplayedHeight = h
	return s
}

// Unit is the coordinate unit of a CropRegion.
type Unit string

const (
	UnitPixels  Unit = "px"
	UnitPercent Unit = "%"
)

// CropRegion is a rectangle in displayed-image space.
type CropRegion struct {
	Unit   Unit    `json:"unit"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ToPixels converts the region into displayed pixels for an image shown at w x h.
func (c CropRegion) ToPixels(w, h int) CropRegion {
	if c.Unit != UnitPercent {
		c.Unit = UnitPixels
		return c
	}
	fw, fh := float64(w), float64(h)
	return CropRegion{
		Unit:   UnitPixels,
		X:      c.X * fw / 100,
		Y:      c.Y * fh / 100,
		Width:  c.Width * fw / 100,
		Height: c.Height * fh / 100,
	}
}

// Center returns the center of the region in its own unit.
func (c CropRegion) Center() (float64, float64) {
	return c.X + c.Width/2, c.Y + c.Height/2
}

// Transform is the zoom and rotation applied around the crop center.
type Transform struct {
	Scale    float64 `json:"scale"`
	Rotation int     `json:"rotation"`
}

// IdentityTransform is the transform a fresh editing session starts with.
func IdentityTransform() Transform {
	return Transform{Scale: 1, Rotation: 0}
}

// Format is an output encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// MIMEType returns the media type for the format.
func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatWebP:
		return "webp"
	default:
		return "png"
	}
}

// OutputOptions controls encoding of a render
type OutputOptions struct {
	Format   Format
	Quality  int
	Lossless bool
	Filename string
}

// RenderRequest is a self-contained snapshot of everything a render needs.
type RenderRequest struct {
	Source    SourceImage
	Crop      *CropRegion
	Transform Transform
	Output    OutputOptions
}

// OutputImage is an encoded render handed back to the caller.
type OutputImage struct {
	Data     []byte
	MIMEType string
	Filename string
	Width    int
	Height   int
}
