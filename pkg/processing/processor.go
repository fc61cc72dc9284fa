package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/menta2k/audioshelf/pkg/errors"
	"github.com/menta2k/audioshelf/pkg/geometry"
	"github.com/menta2k/audioshelf/pkg/types"
)

// DefaultQuality is the lossy encoder quality used when none is given.
const DefaultQuality = 90

// Processor renders crop/zoom/rotate requests into encoded images.
// It holds no per-request state and may be shared between goroutines.
type Processor struct {
	config Config
}

// Config holds configuration for the render pipeline
type Config struct {
	Interpolator  draw.Interpolator
	PreviewMaxDim int
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return NewProcessorWithConfig(Config{})
}

// NewProcessorWithConfig creates a processor with custom configuration
func NewProcessorWithConfig(config Config) *Processor {
	if config.Interpolator == nil {
		config.Interpolator = draw.CatmullRom
	}
	if config.PreviewMaxDim <= 0 {
		config.PreviewMaxDim = 512
	}
	return &Processor{config: config}
}

// Render composes the request and encodes it at full resolution.
func (p *Processor) Render(req types.RenderRequest) (types.OutputImage, error) {
	canvas, err := p.Compose(req)
	if err != nil {
		return types.OutputImage{}, err
	}
	return p.encodeOutput(canvas, req)
}

// Preview composes the request and downscales it to fit PreviewMaxDim.
func (p *Processor) Preview(req types.RenderRequest) (types.OutputImage, error) {
	canvas, err := p.Compose(req)
	if err != nil {
		return types.OutputImage{}, err
	}
	var img image.Image = canvas
	b := canvas.Bounds()
	if b.Dx() > p.config.PreviewMaxDim || b.Dy() > p.config.PreviewMaxDim {
		img = imaging.Fit(canvas, p.config.PreviewMaxDim, p.config.PreviewMaxDim, imaging.Linear)
	}
	return p.encodeOutput(img, req)
}

func (p *Processor) encodeOutput(img image.Image, req types.RenderRequest) (types.OutputImage, error) {
	data, mimeType, err := p.Encode(img, req.Output)
	if err != nil {
		return types.OutputImage{}, err
	}
	format := req.Output.Format
	if format == "" {
		format = types.FormatPNG
	}
	name := req.Output.Filename
	if name == "" {
		name = OutputFilename(req.Source.Name, format)
	}
	b := img.Bounds()
	return types.OutputImage{
		Data:     data,
		MIMEType: mimeType,
		Filename: name,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

// Compose draws the cropped, scaled and rotated source onto a transparent
// canvas the size of the crop in natural pixels.
func (p *Processor) Compose(req types.RenderRequest) (*image.NRGBA, error) {
	if req.Crop == nil {
		return nil, errors.New(errors.ErrCodeMissingCropRegion, "no crop region selected")
	}
	src := req.Source
	if src.Pixels == nil || src.NaturalWidth <= 0 || src.NaturalHeight <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidImage, "source image is empty")
	}

	sr := NaturalRect(src, *req.Crop)
	if sr.Empty() {
		return nil, errors.New(errors.ErrCodeMissingCropRegion, "crop region does not overlap the image")
	}

	scale := req.Transform.Scale
	if scale <= 0 || math.IsNaN(scale) {
		scale = 1
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, sr.Dx(), sr.Dy()))
	cx, cy := float64(sr.Dx())/2, float64(sr.Dy())/2

	m := geometry.RotateAt(req.Transform.Rotation, cx, cy).
		Mul(geometry.ScaleAt(scale, cx, cy)).
		Mul(geometry.Translate(-float64(sr.Min.X), -float64(sr.Min.Y)))

	p.config.Interpolator.Transform(canvas, m.Aff3(), src.Pixels, sr, draw.Over, nil)
	return canvas, nil
}

// NaturalRect maps a displayed-space crop onto whole source pixels, clipped
// to the source bounds.
func NaturalRect(src types.SourceImage, crop types.CropRegion) image.Rectangle {
	dw, dh := src.DisplayedWidth, src.DisplayedHeight
	if dw <= 0 || dh <= 0 {
		dw, dh = src.NaturalWidth, src.NaturalHeight
	}
	px := crop.ToPixels(dw, dh)

	scaleX := float64(src.NaturalWidth) / float64(dw)
	scaleY := float64(src.NaturalHeight) / float64(dh)

	x0 := int(math.Round(px.X * scaleX))
	y0 := int(math.Round(px.Y * scaleY))
	x1 := int(math.Round((px.X + px.Width) * scaleX))
	y1 := int(math.Round((px.Y + px.Height) * scaleY))

	bounds := image.Rect(0, 0, src.NaturalWidth, src.NaturalHeight)
	return image.Rect(x0, y0, x1, y1).Intersect(bounds)
}

// Encode serializes img in the requested format and returns the bytes and
// MIME type.
func (p *Processor) Encode(img image.Image, opts types.OutputOptions) ([]byte, string, error) {
	format := opts.Format
	if format == "" {
		format = types.FormatPNG
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}
	if quality > 100 {
		quality = 100
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case types.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case types.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case types.FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)})
	default:
		return nil, "", errors.New(errors.ErrCodeEncodeFailure, "unsupported output format: %s", format)
	}
	if err != nil {
		return nil, "", errors.Wrap(errors.ErrCodeEncodeFailure, err, "%s encode", format)
	}
	if buf.Len() == 0 {
		return nil, "", errors.New(errors.ErrCodeEncodeFailure, "%s encoder produced no data", format)
	}
	return buf.Bytes(), format.MIMEType(), nil
}

// ParseFormat maps a format name or MIME type onto a Format.
func ParseFormat(s string) (types.Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png", "image/png":
		return types.FormatPNG, nil
	case "jpg", "jpeg", "image/jpeg", "image/jpg":
		return types.FormatJPEG, nil
	case "webp", "image/webp":
		return types.FormatWebP, nil
	}
	return "", errors.New(errors.ErrCodeEncodeFailure, "unsupported output format: %s", s)
}

// NormalizeQuality accepts either a fraction in (0, 1] or a percentage and
// returns an encoder quality in [1, 100]. Zero selects DefaultQuality.
func NormalizeQuality(q float64) int {
	switch {
	case q <= 0 || math.IsNaN(q):
		return DefaultQuality
	case q <= 1:
		return int(math.Round(q * 100))
	case q > 100:
		return 100
	}
	return int(math.Round(q))
}

// OutputFilename keeps the base name of the source and swaps the extension
// for the output format.
func OutputFilename(name string, format types.Format) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "thumbnail"
	}
	return base + "." + format.Extension()
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CropGuide draws the crop rectangle and its center over a copy of the
// source at natural resolution.
func (p *Processor) CropGuide(src types.SourceImage, crop types.CropRegion) (*image.NRGBA, error) {
	if src.Pixels == nil {
		return nil, errors.New(errors.ErrCodeInvalidImage, "source image is empty")
	}
	nrgba := imaging.Clone(src.Pixels)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	r := NaturalRect(src, crop)
	if r.Empty() {
		return nil, fmt.Errorf("crop region %+v does not overlap the image", crop)
	}

	gold := color.NRGBA{255, 204, 0, 255}                    // crop box
	red := color.NRGBA{255, 0, 0, 255}                       // crop center
	blue := color.NRGBA{0, 170, 255, 255}                    // image center
	stroke := int(math.Max(2, 0.004*float64(minInt(w, h)))) // ~0.4% of min side
	cross := int(math.Max(4, 0.01*float64(minInt(w, h))))   // ~1% of min side

	drawRect(nrgba, r, gold, stroke)

	px, py := (r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2
	drawHLine(nrgba, py, px-cross, px+cross, red)
	drawVLine(nrgba, px, py-cross, py+cross, red)

	ix, iy := w/2, h/2
	drawHLine(nrgba, iy, ix-6, ix+6, blue)
	drawVLine(nrgba, ix, iy-6, iy+6, blue)

	return nrgba, nil
}

// Helper functions
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		copy(img.Pix[i:i+4], []uint8{c.R, c.G, c.B, c.A})
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		copy(img.Pix[i:i+4], []uint8{c.R, c.G, c.B, c.A})
		i += img.Stride
	}
}
