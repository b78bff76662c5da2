package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"demo-reel-pipeline/types"
)

// ErrNotFound is returned by Load for a beat with no result file
var ErrNotFound = errors.New("result not found")

// Store keeps one JSON result file per beat, named <stem>.json
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(stem string) string {
	return filepath.Join(s.dir, stem+".json")
}

// Save writes the result atomically, replacing any earlier run's file
func (s *Store) Save(r *types.BeatResult) error {
	if r.Stem == "" {
		return fmt.Errorf("result for %q has no stem", r.Segment)
	}
	return WriteJSON(s.path(r.Stem), r)
}

// Load reads the result for stem
func (s *Store) Load(stem string) (*types.BeatResult, error) {
	data, err := os.ReadFile(s.path(stem))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, stem)
	}
	if err != nil {
		return nil, err
	}
	var r types.BeatResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path(stem), err)
	}
	return &r, nil
}

// List loads every result, ordered by beat order
func (s *Store) List() ([]*types.BeatResult, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*types.BeatResult
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		r, err := s.Load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Stem < out[j].Stem
	})
	return out, nil
}

// WriteJSON writes v as indented JSON through a temp file and rename
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
