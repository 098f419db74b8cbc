// Package contentstore persists book files on disk addressed by the SHA-256
// of their content. Identical uploads collapse to a single blob regardless of
// filename, and blobs are immutable once written.
package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidHash = errors.New("invalid content hash")
)

// Store is a content-addressed file store. Blobs live two directory levels
// deep (first four hex characters) to keep directory fan-out bounded.
type Store struct {
	basePath string
}

// New creates the base directory if missing.
func New(basePath string) (*Store, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(filepath.Join(basePath, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// Put streams r to disk and returns the hex SHA-256 of its content along
// with the byte count. The blob is written to a temporary file first and
// moved into place with an atomic rename, so readers never observe partial
// content and concurrent uploads of the same bytes converge on one blob.
func (s *Store) Put(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.basePath, "tmp"), "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp file: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	target, err := s.blobPath(hash)
	if err != nil {
		return "", 0, err
	}

	if _, err := os.Stat(target); err == nil {
		// Already stored, the duplicate upload wins nothing but loses nothing.
		return hash, size, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", 0, fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		// A concurrent Put of the same content may have landed first.
		if _, statErr := os.Stat(target); statErr == nil {
			return hash, size, nil
		}
		return "", 0, fmt.Errorf("store blob: %w", err)
	}
	return hash, size, nil
}

// Open returns a reader over the blob with the given hash.
func (s *Store) Open(hash string) (*os.File, error) {
	target, err := s.blobPath(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Exists reports whether a blob with the given hash is stored.
func (s *Store) Exists(hash string) (bool, error) {
	target, err := s.blobPath(hash)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Size returns the stored blob's byte count.
func (s *Store) Size(hash string) (int64, error) {
	target, err := s.blobPath(hash)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the blob. Removing a missing blob is not an error.
func (s *Store) Remove(hash string) error {
	target, err := s.blobPath(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// Hashes walks the store and returns every stored blob hash. Used by the
// orphan sweep to compare on-disk blobs against database references.
func (s *Store) Hashes() ([]string, error) {
	var hashes []string
	err := filepath.WalkDir(s.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if isHexHash(name) {
			hashes = append(hashes, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk store: %w", err)
	}
	return hashes, nil
}

func (s *Store) blobPath(hash string) (string, error) {
	hash = strings.ToLower(hash)
	if !isHexHash(hash) {
		return "", ErrInvalidHash
	}
	return filepath.Join(s.basePath, hash[:2], hash[2:4], hash), nil
}

func isHexHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
