package voices

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadJSONFlattensNestedVectors(t *testing.T) {
	path := writeFile(t, "voices.json", `{
		"expr-voice-2-f": [[0.1, 0.2], [0.3, 0.4]],
		"expr-voice-3-m": [1, -1, 0.5]
	}`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	got, ok := s.Lookup("expr-voice-2-f")
	if !ok {
		t.Fatalf("Lookup(expr-voice-2-f) missing")
	}
	if !slices.Equal(got, []float32{0.1, 0.2, 0.3, 0.4}) {
		t.Fatalf("Lookup() = %v", got)
	}
	if s.Dim("expr-voice-3-m") != 3 {
		t.Fatalf("Dim() = %d, want 3", s.Dim("expr-voice-3-m"))
	}
	if !slices.Equal(s.Names(), []string{"expr-voice-2-f", "expr-voice-3-m"}) {
		t.Fatalf("Names() = %v", s.Names())
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "voices.yaml", "narrator:\n  - [0.25, 0.5]\n  - [0.75, 1]\n")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, _ := s.Lookup("narrator")
	if !slices.Equal(got, []float32{0.25, 0.5, 0.75, 1}) {
		t.Fatalf("Lookup() = %v", got)
	}
}

func TestLoadRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"empty":  `{"a": []}`,
		"string": `{"a": ["x"]}`,
		"syntax": `{"a": [1,`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "voices.json", body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLookupUnknownVoice(t *testing.T) {
	s, err := New(map[string][]float32{"a": {1}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := s.Lookup("nope"); ok {
		t.Fatalf("Lookup(nope) ok = true")
	}
	var nilStore *Store
	if _, ok := nilStore.Lookup("a"); ok {
		t.Fatalf("nil store lookup ok = true")
	}
}
