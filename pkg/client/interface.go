package client

import (
	"context"

	"github.com/menta2k/audioshelf/pkg/types"
)

// VisionClient locates the main subject of an image with a vision model.
// Images are passed base64 encoded.
type VisionClient interface {
	LocateSubject(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error)
	Ping(ctx context.Context) error
}
