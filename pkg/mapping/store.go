// Package mapping persists and serves the thread -> job id correlation.
// A thread keeps its job id for the life of the deployment: mappings are
// created once, never rewritten, never deleted.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the durable side: one JSON document holding the full
// thread -> job mapping, rewritten wholesale on every new entry.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted mapping, or an empty one when nothing has
// been stored yet. A missing file is not an error.
func (s *Store) Load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading mapping store: %w", err)
	}

	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mapping store %s: %w", s.path, err)
	}
	return m, nil
}

// Save rewrites the whole document. The write goes to a temp file in the
// same directory and is renamed into place so a crash mid-write never
// corrupts previously durable entries.
func (s *Store) Save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating mapping dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp mapping file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing mapping store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing mapping store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing mapping store: %w", err)
	}
	return nil
}
