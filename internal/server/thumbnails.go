package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/menta2k/audioshelf/internal/upload"
	"github.com/menta2k/audioshelf/pkg/cropper"
	"github.com/menta2k/audioshelf/pkg/editor"
	"github.com/menta2k/audioshelf/pkg/processing"
	"github.com/menta2k/audioshelf/pkg/types"
)

const thumbnailFormMemory = 32 << 20

type thumbnailResponse struct {
	URL       string            `json:"url"`
	Pathname  string            `json:"pathname"`
	MIMEType  string            `json:"mimeType"`
	Filename  string            `json:"filename"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Aspect    string            `json:"aspect"`
	Crop      *types.CropRegion `json:"crop"`
	Transform types.Transform   `json:"transform"`
}

// handleRenderThumbnail accepts a multipart form with an "image" file and
// optional edit fields, renders it and stores the result under thumbnails/.
//
// Fields: aspect, unit, x, y, width, height, displayWidth, displayHeight,
// scale, rotation, format, quality, auto.
func (s *Server) handleRenderThumbnail(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(thumbnailFormMemory); err != nil {
		writeError(w, r, s.logger, wrapFormError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, r, s.logger, invalidInput("image file is required"))
		return
	}
	defer file.Close()

	src, err := s.deps.Loader.Load(file, header.Filename)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	form := formValues{r: r}
	displayW := form.integer("displayWidth")
	displayH := form.integer("displayHeight")
	src = src.WithDisplaySize(displayW, displayH)

	edit, output, err := s.parseEdit(&form)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if form.err != nil {
		writeError(w, r, s.logger, form.err)
		return
	}

	out, state, err := editor.Apply(r.Context(), src, edit, editor.Options{
		Controller: s.config.ControllerConfig(),
		Output:     output,
		Processor:  s.deps.Processor,
		Logger:     s.logger,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	pathname := upload.ThumbnailPrefix + uuid.New().String() + "." + output.Format.Extension()
	url, err := s.deps.Blobs.Put(pathname, out.Data)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	s.logger.Info("thumbnail rendered", "pathname", pathname, "size", [2]int{out.Width, out.Height}, "source", header.Filename)
	writeJSON(w, http.StatusCreated, thumbnailResponse{
		URL:       url,
		Pathname:  pathname,
		MIMEType:  out.MIMEType,
		Filename:  out.Filename,
		Width:     out.Width,
		Height:    out.Height,
		Aspect:    state.Aspect.String(),
		Crop:      state.Crop,
		Transform: state.Transform,
	})
}

func (s *Server) parseEdit(form *formValues) (editor.Edit, types.OutputOptions, error) {
	aspect := s.config.Aspect()
	if v := form.value("aspect"); v != "" {
		a, err := cropper.ParseAspect(v)
		if err != nil {
			return editor.Edit{}, types.OutputOptions{}, invalidInput("%v", err)
		}
		aspect = a
	}

	output := s.config.OutputOptions()
	if v := form.value("format"); v != "" {
		format, err := processing.ParseFormat(v)
		if err != nil {
			return editor.Edit{}, types.OutputOptions{}, invalidInput("unsupported format %q", v)
		}
		output.Format = format
	}
	if q := form.float("quality"); q > 0 {
		output.Quality = processing.NormalizeQuality(q)
	}

	edit := editor.Edit{
		Aspect:   aspect,
		Scale:    form.float("scale"),
		Rotation: form.integer("rotation"),
	}

	if form.value("width") != "" || form.value("height") != "" {
		unit := types.UnitPixels
		if u := form.value("unit"); u == "%" || strings.EqualFold(u, "percent") {
			unit = types.UnitPercent
		}
		edit.Crop = &types.CropRegion{
			Unit:   unit,
			X:      form.float("x"),
			Y:      form.float("y"),
			Width:  form.float("width"),
			Height: form.float("height"),
		}
	}

	if form.flag("auto") {
		if s.deps.Suggester == nil {
			return editor.Edit{}, types.OutputOptions{}, invalidInput("auto crop is not enabled")
		}
		edit.Suggester = s.deps.Suggester
	}
	return edit, output, nil
}

// formValues parses typed form fields and keeps the first error.
type formValues struct {
	r   *http.Request
	err error
}

func (f *formValues) value(key string) string {
	return strings.TrimSpace(f.r.FormValue(key))
}

func (f *formValues) float(key string) float64 {
	v := f.value(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil && f.err == nil {
		f.err = invalidInput("%s must be a number", key)
	}
	return n
}

func (f *formValues) integer(key string) int {
	v := f.value(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil && f.err == nil {
		f.err = invalidInput("%s must be an integer", key)
	}
	return n
}

func (f *formValues) flag(key string) bool {
	v := f.value(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil && f.err == nil {
		f.err = invalidInput("%s must be true or false", key)
	}
	return b
}

func wrapFormError(err error) error {
	if isTooLarge(err) {
		return err
	}
	return invalidInput("invalid multipart form: %v", err)
}
