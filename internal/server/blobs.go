package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/menta2k/audioshelf/internal/upload"
	"github.com/menta2k/audioshelf/internal/utils"
	"github.com/menta2k/audioshelf/pkg/errors"
)

// UploadTokenHeader carries the token issued by POST /api/upload.
const UploadTokenHeader = "X-Upload-Token"

const immutableCache = "public, max-age=31536000, immutable"

type uploadRequest struct {
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

type uploadResponse struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

func (s *Server) handleAuthorizeUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	token, err := s.deps.Uploads.Issue(req.Pathname, req.ContentType)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.logger.Debug("upload authorized", "pathname", token.Pathname, "expires", token.ExpiresAt)
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handlePutBlob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	token := r.Header.Get(UploadTokenHeader)
	if token == "" {
		writeError(w, r, s.logger, errors.New(errors.ErrCodeUnauthorized, "missing %s header", UploadTokenHeader))
		return
	}
	claims, err := s.deps.Uploads.Verify(token, name)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if !claims.Allows(contentType) {
		writeError(w, r, s.logger, invalidInput("content type %q is not allowed, expected one of %s",
			contentType, strings.Join(claims.AllowedTypes, ", ")))
		return
	}

	if err := s.deps.Uploads.Redeem(claims); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	cr := &countingReader{r: body}
	url, err := s.deps.Blobs.PutReader(claims.Pathname, cr)
	if err != nil {
		s.deps.Uploads.Release(claims)
		writeError(w, r, s.logger, err)
		return
	}

	s.logger.Info("blob stored", "pathname", claims.Pathname, "size", utils.FormatFileSize(cr.n))
	writeJSON(w, http.StatusCreated, uploadResponse{
		URL:         url,
		Pathname:    claims.Pathname,
		ContentType: contentType,
		Size:        cr.n,
	})
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	obj, err := s.deps.Blobs.Open(name)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if strings.HasPrefix(name, upload.ThumbnailPrefix) {
		w.Header().Set("Cache-Control", immutableCache)
	}
	http.ServeContent(w, r, obj.Name, obj.ModTime, obj)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
