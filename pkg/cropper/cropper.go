package cropper

import (
	"math"

	"github.com/menta2k/audioshelf/pkg/errors"
	"github.com/menta2k/audioshelf/pkg/geometry"
	"github.com/menta2k/audioshelf/pkg/types"
)

// Controller holds the crop rectangle and transform for one image being edited.
// It is not safe for concurrent use; callers serialize access.
type Controller struct {
	config Config

	width  int
	height int
	aspect AspectRatio

	crop      *types.CropRegion
	transform types.Transform
}

// Config holds the limits the controller enforces
type Config struct {
	MinCropSize     float64
	DefaultFraction float64
	MinScale        float64
	MaxScale        float64
}

// DefaultConfig returns the limits used by the editor UI
func DefaultConfig() Config {
	return Config{
		MinCropSize:     50,
		DefaultFraction: 0.9,
		MinScale:        0.1,
		MaxScale:        3.0,
	}
}

// State is a copy of the controller's current values.
type State struct {
	Crop      *types.CropRegion
	Transform types.Transform
	Aspect    AspectRatio
}

// Equal reports whether two states would render the same image.
func (s State) Equal(o State) bool {
	if s.Transform != o.Transform {
		return false
	}
	if s.Crop == nil || o.Crop == nil {
		return s.Crop == nil && o.Crop == nil
	}
	return *s.Crop == *o.Crop
}

// New creates a new Controller with default configuration
func New() *Controller {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new Controller with custom configuration
func NewWithConfig(config Config) *Controller {
	def := DefaultConfig()
	if config.MinCropSize <= 0 {
		config.MinCropSize = def.MinCropSize
	}
	if config.DefaultFraction <= 0 || config.DefaultFraction > 1 {
		config.DefaultFraction = def.DefaultFraction
	}
	if config.MinScale <= 0 {
		config.MinScale = def.MinScale
	}
	if config.MaxScale < config.MinScale {
		config.MaxScale = math.Max(def.MaxScale, config.MinScale)
	}
	return &Controller{
		config:    config,
		aspect:    Free,
		transform: types.IdentityTransform(),
	}
}

// Config returns the controller limits.
func (c *Controller) Config() Config {
	return c.config
}

// Initialize starts editing src: the crop is centered with the requested
// aspect and the transform is reset to identity.
func (c *Controller) Initialize(src types.SourceImage, aspect AspectRatio) (types.CropRegion, error) {
	w, h := src.DisplayedWidth, src.DisplayedHeight
	if w <= 0 || h <= 0 {
		w, h = src.NaturalWidth, src.NaturalHeight
	}
	if w <= 0 || h <= 0 {
		return types.CropRegion{}, errors.New(errors.ErrCodeInvalidImage, "image has zero dimension: %dx%d", w, h)
	}

	c.width, c.height = w, h
	c.aspect = aspect
	c.transform = types.IdentityTransform()

	region := c.clampRegion(CenterAspectCrop(w, h, aspect, c.config.DefaultFraction))
	c.crop = &region
	return region, nil
}

// Initialized reports whether an image has been loaded.
func (c *Controller) Initialized() bool {
	return c.crop != nil
}

// Bounds returns the displayed size the crop is constrained to.
func (c *Controller) Bounds() (int, int) {
	return c.width, c.height
}

// Aspect returns the active aspect preset.
func (c *Controller) Aspect() AspectRatio {
	return c.aspect
}

// SetCrop replaces the crop region. Percent regions are converted to
// displayed pixels and the result is clamped into the image.
func (c *Controller) SetCrop(region types.CropRegion) (types.CropRegion, error) {
	if err := c.requireImage(); err != nil {
		return types.CropRegion{}, err
	}
	clamped := c.clampRegion(region.ToPixels(c.width, c.height))
	c.crop = &clamped
	return clamped, nil
}

// SetScale sets the zoom factor, clamped to the configured range. NaN keeps
// the previous value.
func (c *Controller) SetScale(v float64) types.Transform {
	if math.IsNaN(v) {
		return c.transform
	}
	c.transform.Scale = clamp(v, c.config.MinScale, c.config.MaxScale)
	return c.transform
}

// Zoom adjusts the scale by delta.
func (c *Controller) Zoom(delta float64) types.Transform {
	if math.IsNaN(delta) {
		return c.transform
	}
	return c.SetScale(c.transform.Scale + delta)
}

// SetRotation sets the rotation in degrees, reduced into [0, 360).
func (c *Controller) SetRotation(degrees int) types.Transform {
	c.transform.Rotation = geometry.NormalizeDegrees(degrees)
	return c.transform
}

// Rotate turns the image by delta degrees relative to the current rotation.
func (c *Controller) Rotate(delta int) types.Transform {
	return c.SetRotation(c.transform.Rotation + delta)
}

// SetAspect switches the aspect preset and re-centers the crop for it.
// The transform is kept.
func (c *Controller) SetAspect(aspect AspectRatio) (types.CropRegion, error) {
	if err := c.requireImage(); err != nil {
		return types.CropRegion{}, err
	}
	c.aspect = aspect
	region := c.clampRegion(CenterAspectCrop(c.width, c.height, aspect, c.config.DefaultFraction))
	c.crop = &region
	return region, nil
}

// CenterOn moves the crop so that its center is as close as possible to the
// normalized point (cx, cy) without leaving the image. The crop size is kept.
func (c *Controller) CenterOn(cx, cy float64) (types.CropRegion, error) {
	if err := c.requireImage(); err != nil {
		return types.CropRegion{}, err
	}
	if math.IsNaN(cx) || math.IsNaN(cy) {
		return *c.crop, nil
	}
	region := *c.crop
	region.X = clamp(cx, 0, 1)*float64(c.width) - region.Width/2
	region.Y = clamp(cy, 0, 1)*float64(c.height) - region.Height/2
	region = c.clampRegion(region)
	c.crop = &region
	return region, nil
}

// Reset re-initializes the crop for the current image and aspect and resets
// the transform.
func (c *Controller) Reset() (types.CropRegion, error) {
	if err := c.requireImage(); err != nil {
		return types.CropRegion{}, err
	}
	c.transform = types.IdentityTransform()
	region := c.clampRegion(CenterAspectCrop(c.width, c.height, c.aspect, c.config.DefaultFraction))
	c.crop = &region
	return region, nil
}

// Snapshot returns a copy of the current state. Crop is nil until Initialize.
func (c *Controller) Snapshot() State {
	s := State{Transform: c.transform, Aspect: c.aspect}
	if c.crop != nil {
		region := *c.crop
		s.Crop = &region
	}
	return s
}

func (c *Controller) requireImage() error {
	if c.crop == nil {
		return errors.New(errors.ErrCodeInvalidImage, "no image loaded")
	}
	return nil
}

// minSize is the configured minimum, capped at the displayed dimension.
func (c *Controller) minSize() (float64, float64) {
	return math.Min(c.config.MinCropSize, float64(c.width)),
		math.Min(c.config.MinCropSize, float64(c.height))
}

func (c *Controller) clampRegion(r types.CropRegion) types.CropRegion {
	fw, fh := float64(c.width), float64(c.height)
	minW, minH := c.minSize()

	w := clamp(r.Width, minW, fw)
	h := clamp(r.Height, minH, fh)
	return types.CropRegion{
		Unit:   types.UnitPixels,
		X:      clamp(r.X, 0, fw-w),
		Y:      clamp(r.Y, 0, fh-h),
		Width:  w,
		Height: h,
	}
}

// CenterAspectCrop returns the region of the given aspect centered in a w x h
// image and covering fraction of the largest such rectangle that fits.
func CenterAspectCrop(w, h int, aspect AspectRatio, fraction float64) types.CropRegion {
	ratio := aspect.Ratio()
	if ratio <= 0 {
		ratio = float64(w) / float64(h)
	}
	return FocusRegion(0.5, 0.5, ratio, w, h, fraction)
}

// FocusRegion calculates the largest region of the given ratio (W/H) centered
// at the normalized point (centerX, centerY), scaled by zoom in (0, 1].
func FocusRegion(centerX, centerY, ratio float64, imgWidth, imgHeight int, zoom float64) types.CropRegion {
	if zoom <= 0 {
		zoom = 1
	}
	fw, fh := float64(imgWidth), float64(imgHeight)

	// Center in pixels
	cx := clamp(centerX, 0, 1) * fw
	cy := clamp(centerY, 0, 1) * fh

	// Max half extents allowed by image bounds
	halfWMax := math.Min(cx, fw-cx)
	halfHMax := math.Min(cy, fh-cy)

	// Width is limited by horizontal bounds and by vertical bounds scaled by ratio
	maxWidth := math.Min(2*halfWMax, ratio*(2*halfHMax))
	width := maxWidth * clamp(zoom, 0.01, 1.0)
	height := width / ratio

	return types.CropRegion{
		Unit:   types.UnitPixels,
		X:      clamp(cx-width/2, 0, fw-width),
		Y:      clamp(cy-height/2, 0, fh-height),
		Width:  width,
		Height: height,
	}
}

// clamp limits v to [lo, hi]; NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
