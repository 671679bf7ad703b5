// Package fstore provides a generic JSON file-per-document store. Documents
// are addressed by a relative key ("<dir>/<name>.json"); writes are atomic
// (temp file + rename) so readers never observe a partially-written document.
package fstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by Get when no document exists under the key.
var ErrNotFound = errors.New("document not found")

// Store is a generic file-backed document store rooted at a single directory.
// It provides type-safe read/write operations for any JSON-serializable T.
type Store[T any] struct {
	root string
}

// NewStore creates a store rooted at root, creating the directory if needed.
func NewStore[T any](root string) (*Store[T], error) {
	if root == "" {
		return nil, errors.New("invalid store parameters: root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root %s: %w", root, err)
	}

	return &Store[T]{root: root}, nil
}

// Root returns the root directory of the store.
func (s *Store[T]) Root() string { return s.root }

// Put writes a document under the key, creating parent directories as needed.
// The write is atomic: content lands in a temp file first and is renamed into
// place.
func (s *Store[T]) Put(key string, value T) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for key %s: %w", key, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document for key %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for key %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write document for key %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for key %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to place document for key %s: %w", key, err)
	}

	return nil
}

// Get reads the document under the key and unmarshals it into type T.
// Returns ErrNotFound if no document exists.
func (s *Store[T]) Get(key string) (*T, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return nil, fmt.Errorf("key %s: %w", key, ErrNotFound)
	default:
		return nil, fmt.Errorf("failed to read document for key %s: %w", key, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse document for key %s: %w", key, err)
	}

	return &v, nil
}

// Remove deletes the document under the key. Removing a missing document is
// not an error.
func (s *Store[T]) Remove(key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove document for key %s: %w", key, err)
	}

	return nil
}

// Keys returns the document keys under dir in lexical order. A missing
// directory yields an empty slice, not an error. Temp files left by
// interrupted writes are skipped.
func (s *Store[T]) Keys(dir string) ([]string, error) {
	path, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		keys = append(keys, filepath.Join(dir, e.Name()))
	}
	sort.Strings(keys)

	return keys, nil
}

// resolve maps a key to an absolute path, rejecting keys that escape the
// store root.
func (s *Store[T]) resolve(key string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if path != s.root && !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %s escapes store root", key)
	}
	return path, nil
}
