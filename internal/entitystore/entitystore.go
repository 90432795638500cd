// Package entitystore is a generic, typed, filesystem-backed store keyed by
// entity id: one directory per id holding a config.json, the same on-disk
// shape the teacher's sandbox package uses for its own per-sandbox state.
package entitystore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/corevisor/corectl/internal/corerr"
)

const configFileName = "config.json"

// Store persists values of type T, one JSON file per entity id, under root.
type Store[T any] struct {
	root string
	name string // used only in log messages, e.g. "network", "container"
}

// New returns a Store rooted at root, creating the directory if absent.
func New[T any](root, name string) (*Store[T], error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, corerr.Wrap(corerr.InternalError, err, "entitystore %s: creating root %q", name, root)
	}
	return &Store[T]{root: root, name: name}, nil
}

func (s *Store[T]) dir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store[T]) configPath(id string) string {
	return filepath.Join(s.dir(id), configFileName)
}

// Create writes cfg under id, failing with Exists if id is already present.
func (s *Store[T]) Create(id string, cfg T) error {
	dir := s.dir(id)
	if _, err := os.Stat(dir); err == nil {
		return corerr.Existsf("%s %q already exists", s.name, id)
	} else if !errors.Is(err, os.ErrNotExist) {
		return corerr.Wrap(corerr.InternalError, err, "%s %q: stat", s.name, id)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "%s %q: creating directory", s.name, id)
	}
	if err := s.writeConfig(id, cfg); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}
	return nil
}

// Update overwrites the config for an existing id, failing with NotFound
// if it is absent.
func (s *Store[T]) Update(id string, cfg T) error {
	if _, err := os.Stat(s.dir(id)); err != nil {
		return corerr.NotFoundf("%s %q not found", s.name, id)
	}
	return s.writeConfig(id, cfg)
}

func (s *Store[T]) writeConfig(id string, cfg T) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "%s %q: marshaling config", s.name, id)
	}
	tmp := s.configPath(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "%s %q: writing config", s.name, id)
	}
	if err := os.Rename(tmp, s.configPath(id)); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "%s %q: committing config", s.name, id)
	}
	return nil
}

// Get reads the config for id, failing with NotFound if absent.
func (s *Store[T]) Get(id string) (T, error) {
	var cfg T
	data, err := os.ReadFile(s.configPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, corerr.NotFoundf("%s %q not found", s.name, id)
		}
		return cfg, corerr.Wrap(corerr.InternalError, err, "%s %q: reading config", s.name, id)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, corerr.Wrap(corerr.InternalError, err, "%s %q: decoding config", s.name, id)
	}
	return cfg, nil
}

// Delete removes the entity's entire directory. Deleting an absent id is
// not an error: the store's invariant (no directory => not present) holds
// either way.
func (s *Store[T]) Delete(id string) error {
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "%s %q: deleting directory", s.name, id)
	}
	return nil
}

// List enumerates every entity whose config decodes successfully,
// skipping (and logging) any directory that fails to decode.
func (s *Store[T]) List() (map[string]T, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]T{}, nil
		}
		return nil, corerr.Wrap(corerr.InternalError, err, "%s: listing %q", s.name, s.root)
	}

	out := make(map[string]T, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		cfg, err := s.Get(id)
		if err != nil {
			slog.Warn("entitystore: skipping entry with undecodable config", "type", s.name, "id", id, "error", err)
			continue
		}
		out[id] = cfg
	}
	return out, nil
}

// Dir returns the on-disk directory for id, for callers (Containers
// service) that need to lay out further files alongside config.json.
func (s *Store[T]) Dir(id string) string { return s.dir(id) }
