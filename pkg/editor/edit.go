package editor

import (
	"context"

	"github.com/menta2k/audioshelf/pkg/cropper"
	"github.com/menta2k/audioshelf/pkg/types"
)

// Edit is a complete set of edits applied in one step, for callers that
// have no interactive session such as the HTTP service and the CLI.
type Edit struct {
	Aspect cropper.AspectRatio
	// Crop replaces the initial centered crop when set.
	Crop *types.CropRegion
	// Suggester, when set, centers the crop on a detected subject before
	// Crop is applied. Detection failures keep the centered crop.
	Suggester Suggester
	// Scale of 0 keeps 1.
	Scale    float64
	Rotation int
}

// Apply opens a session on src, applies e and saves the result. Previews are
// disabled and the session is closed before returning.
func Apply(ctx context.Context, src types.SourceImage, e Edit, opts Options) (types.OutputImage, cropper.State, error) {
	opts.OnPreview = nil
	opts.Debounce = -1

	s, err := Open(src, e.Aspect, opts)
	if err != nil {
		return types.OutputImage{}, cropper.State{}, err
	}
	defer s.Close()

	if e.Suggester != nil {
		// Failure is logged by AutoCrop and the centered crop is kept
		_, _ = s.AutoCrop(ctx, e.Suggester)
	}
	if e.Crop != nil {
		if _, err := s.SetCrop(*e.Crop); err != nil {
			return types.OutputImage{}, cropper.State{}, err
		}
	}
	if e.Scale != 0 {
		if _, err := s.SetScale(e.Scale); err != nil {
			return types.OutputImage{}, cropper.State{}, err
		}
	}
	if _, err := s.SetRotation(e.Rotation); err != nil {
		return types.OutputImage{}, cropper.State{}, err
	}

	state := s.State()
	out, err := s.Save(ctx)
	if err != nil {
		return types.OutputImage{}, cropper.State{}, err
	}
	return out, state, nil
}
