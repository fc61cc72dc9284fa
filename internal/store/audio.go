package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/menta2k/audioshelf/pkg/errors"
)

// MaxTitleLength is the longest title accepted, in characters.
const MaxTitleLength = 20

// Audio is one uploaded clip.
type Audio struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	AudioURL     string    `json:"audioUrl"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	UploadDate   time.Time `json:"uploadDate"`
}

// Validate checks the title and audio URL.
func (a *Audio) Validate() error {
	if err := ValidateTitle(a.Title); err != nil {
		return err
	}
	if strings.TrimSpace(a.AudioURL) == "" {
		return errors.New(errors.ErrCodeInvalidInput, "audio URL is required")
	}
	return nil
}

// ValidateTitle requires a non-blank title of at most MaxTitleLength characters.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New(errors.ErrCodeInvalidInput, "title is required")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLength {
		return errors.New(errors.ErrCodeInvalidInput, "title must be %d characters or less (got %d)", MaxTitleLength, n)
	}
	return nil
}

// AudioUpdate holds the editable fields. Nil fields are left unchanged.
type AudioUpdate struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	ThumbnailURL *string `json:"thumbnailUrl"`
}

// AudioRepository stores Audio records.
type AudioRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewAudioRepository creates a repository on db
func NewAudioRepository(db *sql.DB) *AudioRepository {
	return &AudioRepository{db: db, now: time.Now}
}

// SetClock replaces the time source used for upload dates.
func (r *AudioRepository) SetClock(now func() time.Time) {
	r.now = now
}

// Create assigns an ID and upload date, validates and inserts a.
func (r *AudioRepository) Create(a *Audio) error {
	a.Title = strings.TrimSpace(a.Title)
	if err := a.Validate(); err != nil {
		return err
	}

	a.ID = uuid.New().String()
	a.UploadDate = r.now().UTC().Truncate(time.Millisecond)

	_, err := r.db.Exec(`
		INSERT INTO audios (id, title, description, audio_url, thumbnail_url, upload_date)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.Title, a.Description, a.AudioURL, a.ThumbnailURL, a.UploadDate.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert audio: %w", err)
	}
	return nil
}

// Get returns the audio with the given id.
func (r *AudioRepository) Get(id string) (*Audio, error) {
	row := r.db.QueryRow(`
		SELECT id, title, description, audio_url, thumbnail_url, upload_date
		FROM audios WHERE id = ?
	`, id)

	a, err := scanAudio(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeNotFound, "audio not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audio: %w", err)
	}
	return a, nil
}

// List returns all audio, newest upload first.
func (r *AudioRepository) List() ([]*Audio, error) {
	rows, err := r.db.Query(`
		SELECT id, title, description, audio_url, thumbnail_url, upload_date
		FROM audios ORDER BY upload_date DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio: %w", err)
	}
	defer rows.Close()

	audios := []*Audio{}
	for rows.Next() {
		a, err := scanAudio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audio: %w", err)
		}
		audios = append(audios, a)
	}
	return audios, rows.Err()
}

// Update applies u to the audio with the given id and returns the updated
// record together with the record as it was before.
func (r *AudioRepository) Update(id string, u AudioUpdate) (updated, previous *Audio, err error) {
	previous, err = r.Get(id)
	if err != nil {
		return nil, nil, err
	}

	next := *previous
	if u.Title != nil {
		next.Title = strings.TrimSpace(*u.Title)
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.ThumbnailURL != nil {
		next.ThumbnailURL = *u.ThumbnailURL
	}
	if err := next.Validate(); err != nil {
		return nil, nil, err
	}

	res, err := r.db.Exec(`
		UPDATE audios SET title = ?, description = ?, thumbnail_url = ? WHERE id = ?
	`, next.Title, next.Description, next.ThumbnailURL, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update audio: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil, errors.New(errors.ErrCodeNotFound, "audio not found: %s", id)
	}
	return &next, previous, nil
}

// Delete removes the audio and returns the deleted record.
func (r *AudioRepository) Delete(id string) (*Audio, error) {
	a, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	res, err := r.db.Exec("DELETE FROM audios WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete audio: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, errors.New(errors.ErrCodeNotFound, "audio not found: %s", id)
	}
	return a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudio(s scanner) (*Audio, error) {
	var (
		a      Audio
		millis int64
	)
	if err := s.Scan(&a.ID, &a.Title, &a.Description, &a.AudioURL, &a.ThumbnailURL, &millis); err != nil {
		return nil, err
	}
	a.UploadDate = time.UnixMilli(millis).UTC()
	return &a, nil
}
