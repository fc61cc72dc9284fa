package editor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/menta2k/audioshelf/pkg/cropper"
	"github.com/menta2k/audioshelf/pkg/detection"
	"github.com/menta2k/audioshelf/pkg/errors"
	"github.com/menta2k/audioshelf/pkg/types"
)

// createTestSource creates a gradient source image
func createTestSource(width, height int) types.SourceImage {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
		}
	}
	return types.SourceImage{
		Pixels:          img,
		NaturalWidth:    width,
		NaturalHeight:   height,
		DisplayedWidth:  width,
		DisplayedHeight: height,
		Name:            "cover.jpg",
	}
}

type previewRecorder struct {
	mu       sync.Mutex
	previews []types.OutputImage
}

func (r *previewRecorder) record(out types.OutputImage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previews = append(r.previews, out)
}

func (r *previewRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.previews)
}

type fixedSuggester struct {
	point detection.FocalPoint
	err   error
}

func (f fixedSuggester) SuggestFocus(context.Context, types.SourceImage) (detection.FocalPoint, error) {
	return f.point, f.err
}

func TestOpenSchedulesFirstPreview(t *testing.T) {
	rec := &previewRecorder{}
	s, err := Open(createTestSource(200, 100), cropper.Square, Options{Debounce: -1, OnPreview: rec.record})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if rec.count() != 1 {
		t.Fatalf("Expected one preview after Open, got %d", rec.count())
	}
	if p := rec.previews[0]; p.Width != 90 || p.Height != 90 {
		t.Errorf("Expected 90x90 preview, got %dx%d", p.Width, p.Height)
	}
}

func TestOpenInvalidImage(t *testing.T) {
	_, err := Open(types.SourceImage{}, cropper.Square, Options{})
	if !errors.Is(err, errors.ErrCodeInvalidImage) {
		t.Errorf("Expected INVALID_IMAGE, got %v", err)
	}
}

func TestIdenticalStateSkipsPreview(t *testing.T) {
	rec := &previewRecorder{}
	s, err := Open(createTestSource(200, 200), cropper.Square, Options{Debounce: -1, OnPreview: rec.record})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	s.RequestRender()
	s.SetScale(1) // unchanged
	if rec.count() != 1 {
		t.Errorf("Expected unchanged state not to re-render, got %d previews", rec.count())
	}

	s.Rotate(90)
	if rec.count() != 2 {
		t.Errorf("Expected rotation to render a preview, got %d", rec.count())
	}
}

func TestDebouncedPreviewReflectsLastChange(t *testing.T) {
	rec := &previewRecorder{}
	s, err := Open(createTestSource(300, 200), cropper.Free, Options{Debounce: 60 * time.Millisecond, OnPreview: rec.record})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Zoom(0.1)
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	if n := rec.count(); n != 1 {
		t.Fatalf("Expected a single coalesced preview, got %d", n)
	}

	want, err := s.processor.Preview(types.RenderRequest{
		Source:    s.source,
		Crop:      s.State().Crop,
		Transform: s.State().Transform,
	})
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if !bytes.Equal(rec.previews[0].Data, want.Data) {
		t.Error("Expected preview to reflect the final zoom level")
	}
}

func TestCloseStopsPendingPreview(t *testing.T) {
	rec := &previewRecorder{}
	s, err := Open(createTestSource(100, 100), cropper.Square, Options{Debounce: 50 * time.Millisecond, OnPreview: rec.record})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	s.Close()
	time.Sleep(120 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("Expected no preview after Close, got %d", n)
	}
}

func TestClosedSessionRejectsCalls(t *testing.T) {
	s, err := Open(createTestSource(100, 100), cropper.Square, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.Cancel()
	s.Close()

	if !s.Closed() {
		t.Fatal("Expected session to be closed")
	}

	checks := map[string]error{}
	_, checks["SetCrop"] = s.SetCrop(types.CropRegion{Width: 60, Height: 60})
	_, checks["SetScale"] = s.SetScale(2)
	_, checks["Zoom"] = s.Zoom(0.1)
	_, checks["SetRotation"] = s.SetRotation(90)
	_, checks["Rotate"] = s.Rotate(90)
	_, checks["SetAspect"] = s.SetAspect(cropper.Widescreen)
	_, checks["CenterOn"] = s.CenterOn(0.5, 0.5)
	_, checks["Reset"] = s.Reset()
	_, checks["Save"] = s.Save(context.Background())
	_, checks["AutoCrop"] = s.AutoCrop(context.Background(), fixedSuggester{})

	for name, err := range checks {
		if !errors.Is(err, errors.ErrCodeSessionClosed) {
			t.Errorf("%s: expected SESSION_CLOSED, got %v", name, err)
		}
	}
}

func TestSave(t *testing.T) {
	src := createTestSource(1000, 1000).WithDisplaySize(500, 500)
	s, err := Open(src, cropper.Square, Options{Output: types.OutputOptions{Format: types.FormatJPEG, Quality: 90}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	out, err := s.Save(context.Background())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if out.Width != 900 || out.Height != 900 {
		t.Errorf("Expected 900x900, got %dx%d", out.Width, out.Height)
	}
	if out.MIMEType != "image/jpeg" || out.Filename != "cover.jpg" {
		t.Errorf("Unexpected output %s %s", out.MIMEType, out.Filename)
	}
	if len(out.Data) == 0 {
		t.Error("Expected encoded data")
	}
}

func TestSaveHonorsCancelledContext(t *testing.T) {
	s, err := Open(createTestSource(100, 100), cropper.Square, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Save(ctx); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestMutatorsKeepInvariants(t *testing.T) {
	s, err := Open(createTestSource(400, 300), cropper.Widescreen, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if tr, _ := s.SetScale(10); tr.Scale != 3 {
		t.Errorf("Expected scale clamp to 3, got %v", tr.Scale)
	}
	if tr, _ := s.SetRotation(-90); tr.Rotation != 270 {
		t.Errorf("Expected rotation 270, got %d", tr.Rotation)
	}
	region, _ := s.SetCrop(types.CropRegion{Unit: types.UnitPixels, X: 390, Y: 290, Width: 100, Height: 100})
	if region.X+region.Width > 400 || region.Y+region.Height > 300 {
		t.Errorf("Expected crop inside the image, got %+v", region)
	}

	region, _ = s.Reset()
	st := s.State()
	if st.Transform != types.IdentityTransform() || *st.Crop != region {
		t.Errorf("Unexpected state after Reset %+v", st)
	}
}

func TestAutoCrop(t *testing.T) {
	s, err := Open(createTestSource(1000, 500), cropper.Square, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	region, err := s.AutoCrop(context.Background(), fixedSuggester{point: detection.FocalPoint{X: 0.2, Y: 0.5, Label: "face", Confidence: 0.9}})
	if err != nil {
		t.Fatalf("AutoCrop failed: %v", err)
	}
	if cx, _ := region.Center(); cx != 225 {
		t.Errorf("Expected crop pinned to the left edge, center x 225, got %v", cx)
	}

	before := s.State()
	if _, err := s.AutoCrop(context.Background(), fixedSuggester{err: fmt.Errorf("offline")}); err == nil {
		t.Error("Expected suggester error to be returned")
	}
	if !s.State().Equal(before) {
		t.Error("Expected failed auto crop to keep the crop")
	}
}

func TestAutoCropLogsResultingCenter(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	s, err := Open(createTestSource(1000, 500), cropper.Square, Options{Logger: logger})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if _, err := s.AutoCrop(context.Background(), fixedSuggester{point: detection.FocalPoint{X: 0.2, Y: 0.5, Label: "face", Confidence: 0.9}}); err != nil {
		t.Fatalf("AutoCrop failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "auto crop") || !strings.Contains(out, "225") {
		t.Errorf("Expected auto crop log with the crop center, got %q", out)
	}
}

func TestPreviewErrorCallback(t *testing.T) {
	var (
		mu   sync.Mutex
		errs []error
	)
	rec := &previewRecorder{}
	_, err := Open(createTestSource(100, 100), cropper.Square, Options{
		Debounce:  -1,
		Output:    types.OutputOptions{Format: "tiff"},
		OnPreview: rec.record,
		OnError: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, err)
		},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || !errors.Is(errs[0], errors.ErrCodeEncodeFailure) {
		t.Errorf("Expected one ENCODE_FAILURE, got %v", errs)
	}
	if rec.count() != 0 {
		t.Error("Expected no preview delivered on failure")
	}
}

func TestFlushPreviewRendersPendingNow(t *testing.T) {
	rec := &previewRecorder{}
	s, err := Open(createTestSource(200, 200), cropper.Square, Options{Debounce: time.Hour, OnPreview: rec.record})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if rec.count() != 0 {
		t.Fatalf("Expected no preview before the quiet period, got %d", rec.count())
	}
	s.Rotate(90)
	s.FlushPreview()
	if rec.count() != 1 {
		t.Fatalf("Expected one flushed preview, got %d", rec.count())
	}

	// Nothing pending
	s.FlushPreview()
	if rec.count() != 1 {
		t.Errorf("Expected flush without pending work to do nothing, got %d previews", rec.count())
	}
}

// waitForCurrentPreview blocks until no preview is pending or rendering and
// the last delivered preview matches the current state.
func waitForCurrentPreview(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		if s.scheduler.Pending() {
			continue
		}
		s.renderMu.Lock()
		s.mu.Lock()
		done := s.lastPreview != nil && s.lastPreview.Equal(s.ctrl.Snapshot())
		s.mu.Unlock()
		s.renderMu.Unlock()
		if done {
			return
		}
	}
	t.Fatal("Timed out waiting for the preview of the current state")
}

func TestSlowPreviewIsNotDeliveredAfterNewerState(t *testing.T) {
	rec := &previewRecorder{}
	s, err := Open(createTestSource(3000, 3000), cropper.Free, Options{Debounce: 5 * time.Millisecond, OnPreview: rec.record})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	waitForCurrentPreview(t, s)

	// The rotated full-size render is slow; the small crop that follows is fast
	s.SetRotation(37)
	time.Sleep(15 * time.Millisecond)
	s.SetCrop(types.CropRegion{Unit: types.UnitPixels, X: 100, Y: 100, Width: 60, Height: 60})
	waitForCurrentPreview(t, s)

	state := s.State()
	want, err := s.processor.Preview(types.RenderRequest{
		Source:    s.source,
		Crop:      state.Crop,
		Transform: state.Transform,
	})
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}

	rec.mu.Lock()
	last := rec.previews[len(rec.previews)-1]
	rec.mu.Unlock()
	if !bytes.Equal(last.Data, want.Data) {
		t.Errorf("Last delivered preview does not match the final state (rotation %d, %d previews)",
			state.Transform.Rotation, rec.count())
	}
}

func TestQueuedPreviewRendersLatestState(t *testing.T) {
	rec := &previewRecorder{}
	s, err := Open(createTestSource(200, 200), cropper.Square, Options{Debounce: time.Hour, OnPreview: rec.record})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	// Hold the render lock so the flushed preview queues behind it, then
	// change the state while it waits.
	s.renderMu.Lock()
	done := make(chan struct{})
	go func() {
		s.FlushPreview()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	s.Rotate(90)
	s.renderMu.Unlock()
	<-done

	// The rotation is already shown
	s.FlushPreview()
	if n := rec.count(); n != 1 {
		t.Fatalf("Expected one preview, got %d", n)
	}
	want, err := s.processor.Preview(types.RenderRequest{Source: s.source, Crop: s.State().Crop, Transform: s.State().Transform})
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if !bytes.Equal(rec.previews[0].Data, want.Data) {
		t.Error("Expected the delivered preview to show the rotated state")
	}
}
