package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/menta2k/audioshelf/internal/store"
)

type createAudioRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	AudioURL     string `json:"audioUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

func (s *Server) handleListAudio(w http.ResponseWriter, r *http.Request) {
	audios, err := s.deps.Audios.List()
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, audios)
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := s.deps.Audios.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, audio)
}

func (s *Server) handleCreateAudio(w http.ResponseWriter, r *http.Request) {
	var req createAudioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	audio := &store.Audio{
		Title:        req.Title,
		Description:  req.Description,
		AudioURL:     req.AudioURL,
		ThumbnailURL: req.ThumbnailURL,
	}
	if err := s.deps.Audios.Create(audio); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.logger.Info("audio created", "id", audio.ID, "title", audio.Title)
	writeJSON(w, http.StatusCreated, audio)
}

func (s *Server) handleUpdateAudio(w http.ResponseWriter, r *http.Request) {
	var req store.AudioUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	updated, previous, err := s.deps.Audios.Update(chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	if previous.ThumbnailURL != "" && previous.ThumbnailURL != updated.ThumbnailURL {
		if err := s.deps.Blobs.Delete(previous.ThumbnailURL); err != nil {
			s.logger.Warn("failed to delete replaced thumbnail", "url", previous.ThumbnailURL, "err", err)
		}
	}
	s.logger.Info("audio updated", "id", updated.ID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := s.deps.Audios.Delete(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	// Blobs that are already gone are not an error
	for _, url := range []string{audio.AudioURL, audio.ThumbnailURL} {
		if err := s.deps.Blobs.Delete(url); err != nil {
			s.logger.Warn("failed to delete blob", "url", url, "err", err)
		}
	}
	s.logger.Info("audio deleted", "id", audio.ID)
	writeJSON(w, http.StatusOK, audio)
}
