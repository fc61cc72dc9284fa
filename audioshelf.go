// Package audioshelf edits cover thumbnails for shared audio clips.
//
// An edit is a crop in displayed-image space plus a zoom and rotation about
// the crop center. Interactive callers open a session, mutate it and receive
// debounced previews; one-shot callers apply a complete edit.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/audioshelf"
//		"github.com/menta2k/audioshelf/pkg/cropper"
//		"github.com/menta2k/audioshelf/pkg/editor"
//	)
//
//	func main() {
//		shelf := audioshelf.New()
//
//		path, out, err := shelf.EditFile(context.Background(), "cover.jpg", "out",
//			editor.Edit{Aspect: cropper.Square, Scale: 1.2, Rotation: 90})
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("wrote %s (%dx%d)\n", path, out.Width, out.Height)
//	}
//
// The packages underneath:
//
//  1. Cropper (pkg/cropper): crop state, aspect presets and clamping
//  2. Processing (pkg/processing): the render pipeline and encoders
//  3. Debounce (pkg/debounce): trailing-edge preview scheduling
//  4. Editor (pkg/editor): sessions tying the three together
//  5. Detection and vision (pkg/detection, pkg/vision): auto crop focus
//
// The HTTP service and CLI live under internal/ and cmd/audioshelf.
package audioshelf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/menta2k/audioshelf/internal/utils"
	"github.com/menta2k/audioshelf/pkg/cropper"
	"github.com/menta2k/audioshelf/pkg/editor"
	"github.com/menta2k/audioshelf/pkg/loader"
	"github.com/menta2k/audioshelf/pkg/processing"
	"github.com/menta2k/audioshelf/pkg/types"
)

// Version of the audioshelf library
const Version = "1.0.0"

// Shelf loads images and runs edits with a shared processor
type Shelf struct {
	loader  *loader.Loader
	options editor.Options
}

// New creates a Shelf with default configuration
func New() *Shelf {
	return NewWithConfig(cropper.DefaultConfig(), types.OutputOptions{Format: types.FormatPNG}, nil)
}

// NewWithConfig creates a Shelf with custom controller limits and output
// settings. A nil logger discards log output.
func NewWithConfig(controller cropper.Config, output types.OutputOptions, logger *log.Logger) *Shelf {
	return &Shelf{
		loader: loader.New(),
		options: editor.Options{
			Controller: controller,
			Output:     output,
			Processor:  processing.NewProcessor(),
			Logger:     logger,
		},
	}
}

// OpenFile starts an interactive session on the image at path. onPreview
// receives each debounced preview; it may be nil.
func (s *Shelf) OpenFile(path string, aspect cropper.AspectRatio, onPreview func(types.OutputImage)) (*editor.Session, error) {
	src, err := s.loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	opts := s.options
	opts.OnPreview = onPreview
	return editor.Open(src, aspect, opts)
}

// Edit applies e to src and returns the encoded result.
func (s *Shelf) Edit(ctx context.Context, src types.SourceImage, e editor.Edit) (types.OutputImage, error) {
	out, _, err := editor.Apply(ctx, src, e, s.options)
	return out, err
}

// EditFile loads inputPath, applies e and writes the result into outputDir.
// It returns the written path.
func (s *Shelf) EditFile(ctx context.Context, inputPath, outputDir string, e editor.Edit) (string, types.OutputImage, error) {
	src, err := s.loader.LoadFile(inputPath)
	if err != nil {
		return "", types.OutputImage{}, fmt.Errorf("failed to load image: %w", err)
	}

	out, err := s.Edit(ctx, src, e)
	if err != nil {
		return "", types.OutputImage{}, err
	}

	if err := utils.EnsureDir(outputDir); err != nil {
		return "", types.OutputImage{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(outputDir, out.Filename)
	if err := os.WriteFile(path, out.Data, 0o644); err != nil {
		return "", types.OutputImage{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, out, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
