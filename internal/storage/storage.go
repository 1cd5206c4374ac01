package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// MaxUploadSize caps a single uploaded image
const MaxUploadSize = 10 * 1024 * 1024

var (
	// ErrTooLarge is returned when an upload reaches MaxUploadSize
	ErrTooLarge = errors.New("file too large (max 10MB)")
	// ErrNotImage is returned when the upload content is not a recognised image
	ErrNotImage = errors.New("uploaded file is not an image")
	// ErrBadFilename is returned when no usable base name remains
	ErrBadFilename = errors.New("invalid upload filename")
)

// UploadStore keeps submitted images on disk under their client filename
type UploadStore struct {
	dir string
}

// New returns an UploadStore rooted at dir
func New(dir string) *UploadStore {
	return &UploadStore{dir: dir}
}

// Dir returns the uploads directory
func (s *UploadStore) Dir() string {
	return s.dir
}

// Read reads an upload body, rejecting anything at or over MaxUploadSize
func (s *UploadStore) Read(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	if len(data) >= MaxUploadSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Save writes data under the base name of filename and returns the stored
// path. An existing file with the same name is overwritten.
func (s *UploadStore) Save(filename string, data []byte) (string, error) {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "", fmt.Errorf("%w: %q", ErrBadFilename, filename)
	}
	if !filetype.IsImage(data) {
		return "", ErrNotImage
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return path, nil
}
