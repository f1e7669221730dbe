package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

type fileEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type fileDocument struct {
	Entries []fileEntry `json:"entries"`
}

// FileStore persists a MemoryStore as a single JSON document, rewritten
// atomically on every mutation. It suits a single process with a small
// cache, such as the command line driver.
type FileStore struct {
	*MemoryStore
	path string
}

// CorruptSuffix is appended to a store file that could not be parsed when
// it is moved aside.
const CorruptSuffix = ".corrupt"

// OpenFileStore loads path if it exists, or starts empty. A document that
// does not parse is moved to path+CorruptSuffix and the store starts empty,
// so a damaged cache only costs misses.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{MemoryStore: NewMemoryStore(), path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading store file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		aside := path + CorruptSuffix
		logger := slog.Default().With("component", "file_store")
		if mvErr := os.Rename(path, aside); mvErr != nil {
			return nil, fmt.Errorf("moving aside corrupt store file %s: %w", path, mvErr)
		}
		logger.Warn("store file is corrupt, starting empty", "path", path, "moved_to", aside, "error", err)
		return s, nil
	}
	for _, e := range doc.Entries {
		s.MemoryStore.set(e.Key, e.Value)
	}
	return s, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.MemoryStore.set(key, value)
	return s.flush()
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.values[key]; !ok {
		return nil
	}
	s.MemoryStore.remove(key)
	return s.flush()
}

// flush writes the document to a temp file and renames it into place.
// Callers hold s.mu.
func (s *FileStore) flush() error {
	doc := fileDocument{Entries: make([]fileEntry, 0, len(s.order))}
	for _, k := range s.order {
		doc.Entries = append(doc.Entries, fileEntry{Key: k, Value: s.values[k]})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding store file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pottypal-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing store file: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}
