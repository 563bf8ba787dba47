package voices

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("voice not found")

// Store holds named style vectors. Vectors are shared and must be treated as
// read-only by callers.
type Store struct {
	vectors map[string][]float32
	names   []string
}

// New builds a store from already decoded vectors. Empty vectors are rejected.
func New(vectors map[string][]float32) (*Store, error) {
	s := &Store{vectors: make(map[string][]float32, len(vectors))}
	for name, vec := range vectors {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("voice name is empty")
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("voice %q has an empty style vector", name)
		}
		s.vectors[name] = append([]float32(nil), vec...)
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Load reads a voice table from a .json, .yaml or .yml file. Each entry is
// either a flat list of numbers or a list of such lists, which is flattened
// in order.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voices: %w", err)
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decode voices %s: %w", path, err)
	}

	vectors := make(map[string][]float32, len(raw))
	for name, value := range raw {
		vec, err := flatten(value, nil)
		if err != nil {
			return nil, fmt.Errorf("voice %q: %w", name, err)
		}
		vectors[name] = vec
	}
	return New(vectors)
}

func flatten(v any, dst []float32) ([]float32, error) {
	switch x := v.(type) {
	case []any:
		var err error
		for _, item := range x {
			dst, err = flatten(item, dst)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	case float64:
		return append(dst, float32(x)), nil
	case float32:
		return append(dst, x), nil
	case int:
		return append(dst, float32(x)), nil
	case int64:
		return append(dst, float32(x)), nil
	default:
		return nil, fmt.Errorf("unexpected value of type %T", v)
	}
}

// Lookup returns the style vector registered under name.
func (s *Store) Lookup(name string) ([]float32, bool) {
	if s == nil {
		return nil, false
	}
	vec, ok := s.vectors[name]
	return vec, ok
}

// Names lists voice names in sorted order.
func (s *Store) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.names...)
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Dim returns the style length of name, or 0 when unknown.
func (s *Store) Dim(name string) int {
	vec, _ := s.Lookup(name)
	return len(vec)
}
