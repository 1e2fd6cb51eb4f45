package voice

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// AssetStore is a hierarchical name to bytes store. Names are slash separated
// and relative to the store root.
type AssetStore interface {
	Exists(rel string) bool
	Read(rel string) ([]byte, error)
	Write(rel string, data []byte) error
	Remove(rel string) error
	List(dir string) ([]fs.DirEntry, error)
	Abs(rel string) string
}

// FileStore is an AssetStore rooted at a directory.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed and returns a store on it.
func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", abs, err)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the absolute store directory.
func (s *FileStore) Root() string {
	return s.root
}

// Abs returns the absolute filesystem path for rel.
func (s *FileStore) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Exists reports whether rel is a regular file.
func (s *FileStore) Exists(rel string) bool {
	info, err := os.Stat(s.Abs(rel))
	return err == nil && info.Mode().IsRegular()
}

func (s *FileStore) Read(rel string) ([]byte, error) {
	return os.ReadFile(s.Abs(rel))
}

// Write stores data under rel. The file is written to a temporary name in
// the same directory and renamed into place so readers never see a partial
// asset.
func (s *FileStore) Write(rel string, data []byte) error {
	path := s.Abs(rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	file, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return err
	}
	tempPath := file.Name()

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

// Remove deletes rel. A missing file is not an error.
func (s *FileStore) Remove(rel string) error {
	err := os.Remove(s.Abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the entries of dir. A missing directory lists as empty.
func (s *FileStore) List(dir string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(s.Abs(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}
