// Package blob stores uploaded audio and thumbnail files on the local
// filesystem and maps them to public URLs.
package blob

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/menta2k/audioshelf/internal/utils"
	"github.com/menta2k/audioshelf/pkg/errors"
)

// DefaultBaseURL is the URL prefix blobs are served under.
const DefaultBaseURL = "/blobs"

// Store keeps blobs below a root directory.
type Store struct {
	root    string
	baseURL string
}

// Object is an opened blob.
type Object struct {
	io.ReadSeekCloser
	Name        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// New creates a store rooted at dir, creating the directory if needed.
// An empty baseURL means DefaultBaseURL.
func New(dir, baseURL string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob directory is required")
	}
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob directory: %w", err)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Store{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root returns the absolute storage directory.
func (s *Store) Root() string {
	return s.root
}

// CleanPath validates a blob pathname such as "audio/song.mp3" and returns
// it in canonical form. Absolute paths, empty segments and ".." are rejected.
func CleanPath(name string) (string, error) {
	if name == "" || strings.Contains(name, "\\") || strings.ContainsRune(name, 0) {
		return "", errors.New(errors.ErrCodeInvalidInput, "invalid blob path %q", name)
	}
	if strings.HasPrefix(name, "/") {
		return "", errors.New(errors.ErrCodeInvalidInput, "blob path must be relative: %q", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", errors.New(errors.ErrCodeInvalidInput, "invalid blob path %q", name)
		}
	}
	return path.Clean(name), nil
}

// URL returns the public URL for a blob path.
func (s *Store) URL(name string) string {
	return s.baseURL + "/" + name
}

// PathFromURL extracts the blob path from a URL produced by URL. Host and
// query are ignored, so absolute and relative forms of the same URL match.
func (s *Store) PathFromURL(rawURL string) (string, bool) {
	p, ok := urlPath(rawURL)
	if !ok {
		return "", false
	}
	base, _ := urlPath(s.baseURL)
	prefix := base + "/"
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	name, err := CleanPath(strings.TrimPrefix(p, prefix))
	if err != nil {
		return "", false
	}
	return name, true
}

// urlPath strips scheme, host, query and fragment from u.
func urlPath(u string) (string, bool) {
	if i := strings.Index(u, "://"); i >= 0 {
		rest := u[i+3:]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			return "", false
		}
		u = rest[slash:]
	}
	if j := strings.IndexAny(u, "?#"); j >= 0 {
		u = u[:j]
	}
	return u, true
}

func (s *Store) fullPath(name string) (string, error) {
	clean, err := CleanPath(name)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", errors.New(errors.ErrCodeInvalidInput, "blob path escapes storage root: %q", name)
	}
	return full, nil
}

// Put writes data to name, replacing any existing blob, and returns its URL.
func (s *Store) Put(name string, data []byte) (string, error) {
	return s.PutReader(name, bytes.NewReader(data))
}

// PutReader streams r to name and returns its URL. The blob is written to a
// temporary file first so readers never see a partial upload.
func (s *Store) PutReader(name string, r io.Reader) (string, error) {
	full, err := s.fullPath(name)
	if err != nil {
		return "", err
	}
	if err := utils.EnsureDir(filepath.Dir(full)); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	clean, _ := CleanPath(name)
	return s.URL(clean), nil
}

// Open opens the blob at name. Missing blobs return NOT_FOUND.
func (s *Store) Open(name string) (*Object, error) {
	full, err := s.fullPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "blob not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat blob: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, errors.New(errors.ErrCodeNotFound, "blob not found: %s", name)
	}
	return &Object{
		ReadSeekCloser: f,
		Name:           path.Base(name),
		Size:           info.Size(),
		ModTime:        info.ModTime(),
		ContentType:    utils.ContentType(name),
	}, nil
}

// Remove deletes the blob at name. A blob that is already gone is not an error.
func (s *Store) Remove(name string) error {
	full, err := s.fullPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Delete removes the blob behind a public URL. Empty URLs and URLs that do
// not point into this store are ignored.
func (s *Store) Delete(rawURL string) error {
	if rawURL == "" {
		return nil
	}
	name, ok := s.PathFromURL(rawURL)
	if !ok {
		return nil
	}
	return s.Remove(name)
}
