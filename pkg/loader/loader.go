package loader

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/audioshelf/pkg/errors"
	"github.com/menta2k/audioshelf/pkg/types"
)

const (
	defaultMaxBytes  = 20 << 20
	defaultMaxPixels = 50_000_000
)

// Loader decodes thumbnails into immutable source images
type Loader struct {
	config Config
}

// Config holds configuration for the loader
type Config struct {
	SupportedFormats []string
	MaxBytes         int64
	// MaxPixels bounds width*height, checked from the header before decoding
	MaxPixels int64
}

// New creates a new Loader with default configuration
func New() *Loader {
	return &Loader{
		config: Config{
			SupportedFormats: []string{"jpeg", "png", "webp", "gif"},
			MaxBytes:         defaultMaxBytes,
			MaxPixels:        defaultMaxPixels,
		},
	}
}

// NewWithConfig creates a new Loader with custom configuration
func NewWithConfig(config Config) *Loader {
	return &Loader{config: config}
}

// LoadFile loads an image from a file path
func (l *Loader) LoadFile(path string) (types.SourceImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.SourceImage{}, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()

	return l.Load(f, filepath.Base(path))
}

// LoadURL downloads and loads an image from a URL
func (l *Loader) LoadURL(imageURL string) (types.SourceImage, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return types.SourceImage{}, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return types.SourceImage{}, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(imageURL)
	if err != nil {
		return types.SourceImage{}, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.SourceImage{}, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return types.SourceImage{}, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	return l.Load(resp.Body, filepath.Base(parsedURL.Path))
}

// Load decodes an image from a reader. The result is displayed at its natural
// size until the caller records an on-screen size with WithDisplaySize.
func (l *Loader) Load(r io.Reader, name string) (types.SourceImage, error) {
	limit := l.config.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return types.SourceImage{}, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > limit {
		return types.SourceImage{}, errors.New(errors.ErrCodeInvalidImage, "image exceeds %d bytes", limit)
	}
	return l.Decode(data, name)
}

// Decode decodes raw bytes. EXIF orientation is applied so the natural size
// matches what a browser would show.
func (l *Loader) Decode(data []byte, name string) (types.SourceImage, error) {
	if err := l.checkPixels(data); err != nil {
		return types.SourceImage{}, err
	}
	img, format, err := l.decode(data)
	if err != nil {
		return types.SourceImage{}, errors.Wrap(errors.ErrCodeInvalidImage, err, "failed to decode image")
	}
	if !l.isFormatSupported(format) {
		return types.SourceImage{}, errors.New(errors.ErrCodeInvalidImage, "unsupported image format: %s", format)
	}
	return FromImage(img, name)
}

// FromImage wraps an already decoded image, copying its pixels.
func FromImage(img image.Image, name string) (types.SourceImage, error) {
	if img == nil {
		return types.SourceImage{}, errors.New(errors.ErrCodeInvalidImage, "image is nil")
	}
	if err := Validate(img); err != nil {
		return types.SourceImage{}, err
	}

	pixels := imaging.Clone(img)
	b := pixels.Bounds()
	return types.SourceImage{
		Pixels:          pixels,
		NaturalWidth:    b.Dx(),
		NaturalHeight:   b.Dy(),
		DisplayedWidth:  b.Dx(),
		DisplayedHeight: b.Dy(),
		Name:            name,
	}, nil
}

// Validate checks that an image has a usable size
func Validate(img image.Image) error {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return errors.New(errors.ErrCodeInvalidImage, "image has zero dimension: %dx%d", b.Dx(), b.Dy())
	}
	return nil
}

// checkPixels rejects images whose header declares more pixels than
// MaxPixels. Unreadable headers are left to decode to report.
func (l *Loader) checkPixels(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if cfg, err = webp.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil
		}
	}

	limit := l.config.MaxPixels
	if limit <= 0 {
		limit = defaultMaxPixels
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > limit {
		return errors.New(errors.ErrCodeInvalidImage, "image is %dx%d, over the %d pixel limit", cfg.Width, cfg.Height, limit)
	}
	return nil
}

func (l *Loader) decode(data []byte) (image.Image, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err == nil {
		img, derr := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if derr == nil {
			return img, format, nil
		}
		err = derr
	}

	// Fallback: explicit WebP decode
	if img, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return img, "webp", nil
	}

	return nil, "", err
}

func (l *Loader) isFormatSupported(format string) bool {
	for _, supported := range l.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}
