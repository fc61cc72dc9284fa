// Package editor ties the crop controller, render pipeline and debounce
// scheduler into one editing session for a host UI.
//
// A Session is safe for concurrent use. Mutations are applied immediately
// and schedule a preview; previews are rendered on the scheduler goroutine
// from a snapshot of the state at fire time and handed to OnPreview. Save
// renders synchronously on the caller's goroutine.
package editor

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/menta2k/audioshelf/pkg/cropper"
	"github.com/menta2k/audioshelf/pkg/detection"
	"github.com/menta2k/audioshelf/pkg/debounce"
	"github.com/menta2k/audioshelf/pkg/errors"
	"github.com/menta2k/audioshelf/pkg/processing"
	"github.com/menta2k/audioshelf/pkg/types"
)

// DefaultDebounce is the quiet period before a preview is rendered.
const DefaultDebounce = 100 * time.Millisecond

// Suggester proposes a point to center the crop on.
type Suggester interface {
	SuggestFocus(ctx context.Context, src types.SourceImage) (detection.FocalPoint, error)
}

// Options configures a session. Zero values select defaults.
type Options struct {
	Controller cropper.Config
	// Debounce is the preview quiet period. Negative disables debouncing.
	Debounce  time.Duration
	Output    types.OutputOptions
	Processor *processing.Processor
	Logger    *log.Logger

	// OnPreview receives previews one at a time, in state order. It must not
	// call back into the session.
	OnPreview func(types.OutputImage)
	OnError   func(error)
}

// Session is one image being edited.
type Session struct {
	mu        sync.Mutex
	ctrl      *cropper.Controller
	source    types.SourceImage
	processor *processing.Processor
	scheduler *debounce.Scheduler
	opts      Options
	logger    *log.Logger

	lastPreview *cropper.State
	closed      bool

	// renderMu serializes preview rendering and delivery
	renderMu sync.Mutex
}

// Open starts a session on src with the given aspect and schedules the
// first preview.
func Open(src types.SourceImage, aspect cropper.AspectRatio, opts Options) (*Session, error) {
	if opts.Processor == nil {
		opts.Processor = processing.NewProcessor()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	delay := opts.Debounce
	switch {
	case delay == 0:
		delay = DefaultDebounce
	case delay < 0:
		delay = 0
	}

	s := &Session{
		ctrl:      cropper.NewWithConfig(opts.Controller),
		source:    src,
		processor: opts.Processor,
		opts:      opts,
		logger:    opts.Logger.With("image", src.Name),
	}
	if _, err := s.ctrl.Initialize(src, aspect); err != nil {
		return nil, err
	}
	s.scheduler = debounce.New(delay, s.renderPreview)

	s.logger.Debug("session opened",
		"natural", [2]int{src.NaturalWidth, src.NaturalHeight},
		"displayed", [2]int{src.DisplayedWidth, src.DisplayedHeight},
		"aspect", aspect.String())

	s.RequestRender()
	return s, nil
}

// Source returns the image being edited.
func (s *Session) Source() types.SourceImage {
	return s.source
}

// State returns a snapshot of the crop and transform.
func (s *Session) State() cropper.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.Snapshot()
}

// RequestRender schedules a preview of the latest state.
func (s *Session) RequestRender() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.opts.OnPreview == nil {
		return
	}
	s.scheduler.Trigger()
}

// FlushPreview renders a pending preview immediately.
func (s *Session) FlushPreview() {
	s.scheduler.Flush()
}

// SetCrop replaces the crop region.
func (s *Session) SetCrop(region types.CropRegion) (types.CropRegion, error) {
	return s.mutateRegion(func(c *cropper.Controller) (types.CropRegion, error) {
		return c.SetCrop(region)
	})
}

// SetAspect switches the aspect preset.
func (s *Session) SetAspect(aspect cropper.AspectRatio) (types.CropRegion, error) {
	return s.mutateRegion(func(c *cropper.Controller) (types.CropRegion, error) {
		return c.SetAspect(aspect)
	})
}

// CenterOn moves the crop toward a normalized point.
func (s *Session) CenterOn(cx, cy float64) (types.CropRegion, error) {
	return s.mutateRegion(func(c *cropper.Controller) (types.CropRegion, error) {
		return c.CenterOn(cx, cy)
	})
}

// Reset restores the initial crop and identity transform.
func (s *Session) Reset() (types.CropRegion, error) {
	return s.mutateRegion(func(c *cropper.Controller) (types.CropRegion, error) {
		return c.Reset()
	})
}

// SetScale sets the zoom factor.
func (s *Session) SetScale(v float64) (types.Transform, error) {
	return s.mutateTransform(func(c *cropper.Controller) types.Transform { return c.SetScale(v) })
}

// Zoom adjusts the zoom factor by delta.
func (s *Session) Zoom(delta float64) (types.Transform, error) {
	return s.mutateTransform(func(c *cropper.Controller) types.Transform { return c.Zoom(delta) })
}

// SetRotation sets the rotation in degrees.
func (s *Session) SetRotation(degrees int) (types.Transform, error) {
	return s.mutateTransform(func(c *cropper.Controller) types.Transform { return c.SetRotation(degrees) })
}

// Rotate turns the image by delta degrees.
func (s *Session) Rotate(delta int) (types.Transform, error) {
	return s.mutateTransform(func(c *cropper.Controller) types.Transform { return c.Rotate(delta) })
}

func (s *Session) mutateRegion(fn func(*cropper.Controller) (types.CropRegion, error)) (types.CropRegion, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.CropRegion{}, errSessionClosed()
	}
	region, err := fn(s.ctrl)
	s.mu.Unlock()
	if err != nil {
		return types.CropRegion{}, err
	}
	s.RequestRender()
	return region, nil
}

func (s *Session) mutateTransform(fn func(*cropper.Controller) types.Transform) (types.Transform, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.Transform{}, errSessionClosed()
	}
	t := fn(s.ctrl)
	s.mu.Unlock()
	s.RequestRender()
	return t, nil
}

// AutoCrop asks suggester for a focal point and centers the crop on it.
func (s *Session) AutoCrop(ctx context.Context, suggester Suggester) (types.CropRegion, error) {
	if err := s.checkOpen(); err != nil {
		return types.CropRegion{}, err
	}
	point, err := suggester.SuggestFocus(ctx, s.source)
	if err != nil {
		s.logger.Warn("auto crop failed, keeping current crop", "err", err)
		return types.CropRegion{}, err
	}
	region, err := s.CenterOn(point.X, point.Y)
	if err != nil {
		return types.CropRegion{}, err
	}
	cx, cy := region.Center()
	s.logger.Debug("auto crop", "label", point.Label, "confidence", point.Confidence,
		"focus", [2]float64{point.X, point.Y}, "center", [2]float64{cx, cy})
	return region, nil
}

// Save renders the current state at full resolution.
func (s *Session) Save(ctx context.Context) (types.OutputImage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.OutputImage{}, errSessionClosed()
	}
	req := s.requestLocked()
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.OutputImage{}, err
	}

	start := time.Now()
	out, err := s.processor.Render(req)
	if err != nil {
		s.logger.Error("save failed", "err", err)
		return types.OutputImage{}, err
	}
	s.logger.Debug("saved", "file", out.Filename, "size", [2]int{out.Width, out.Height},
		"bytes", len(out.Data), "took", time.Since(start))
	return out, nil
}

// Cancel discards the session without saving.
func (s *Session) Cancel() {
	s.Close()
}

// Close stops pending previews. Later calls return SESSION_CLOSED.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.scheduler.Stop()
	s.lastPreview = nil
	s.logger.Debug("session closed")
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed()
	}
	return nil
}

func (s *Session) requestLocked() types.RenderRequest {
	snap := s.ctrl.Snapshot()
	return types.RenderRequest{
		Source:    s.source,
		Crop:      snap.Crop,
		Transform: snap.Transform,
		Output:    s.opts.Output,
	}
}

// renderPreview runs on the scheduler goroutine. A result is only delivered
// if the state it was rendered from is still current.
func (s *Session) renderPreview() {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.ctrl.Snapshot()
	if s.lastPreview != nil && s.lastPreview.Equal(snap) {
		s.mu.Unlock()
		return
	}
	req := s.requestLocked()
	s.mu.Unlock()

	out, err := s.processor.Preview(req)
	if err != nil {
		s.logger.Error("preview failed", "err", err)
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !snap.Equal(s.ctrl.Snapshot()) {
		s.mu.Unlock()
		s.logger.Debug("stale preview dropped")
		return
	}
	s.lastPreview = &snap
	s.mu.Unlock()

	s.opts.OnPreview(out)
}

func errSessionClosed() error {
	return errors.New(errors.ErrCodeSessionClosed, "editing session is closed")
}
