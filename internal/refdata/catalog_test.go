package refdata

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const testCatalogYAML = `
country:
  id: test
  name: Test Census
places:
  - id: us
    name: United States
  - id: gb
    name: United Kingdom
datasets:
  - id: budget
    title: Government Budget
questions:
  - id: q1
  - id: q2
  - id: q3
  - id: q4
  - id: q5
  - id: q6
  - id: q7
  - id: q8
  - id: q9
  - id: url
    type: url
`

func TestParse_BuildsIndexes(t *testing.T) {
	c, err := Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if c.Country.Name != "Test Census" {
		t.Errorf("Country.Name = %q", c.Country.Name)
	}
	if p, ok := c.Place("gb"); !ok || p.Name != "United Kingdom" {
		t.Errorf("Place(gb) = %+v, %v", p, ok)
	}
	if d, ok := c.Dataset("budget"); !ok || d.Title != "Government Budget" {
		t.Errorf("Dataset(budget) = %+v, %v", d, ok)
	}
	if _, ok := c.Place("fr"); ok {
		t.Error("Place(fr) should not exist")
	}
}

func TestCatalog_YesNoQuestions_FirstNine(t *testing.T) {
	c, err := Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	yn := c.YesNoQuestions()
	if len(yn) != 9 {
		t.Fatalf("len = %d, want 9", len(yn))
	}
	if yn[8].ID != "q9" {
		t.Errorf("last yes/no question = %q, want q9", yn[8].ID)
	}

	short := &Catalog{Questions: []Question{{ID: "a"}}}
	if got := short.YesNoQuestions(); len(got) != 1 {
		t.Errorf("short catalog yes/no = %d, want 1", len(got))
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "   ", "empty"},
		{"invalid yaml", "places: [", "decode"},
		{"duplicate place", "places:\n  - id: us\n  - id: us\n", "duplicate place"},
		{"missing dataset id", "datasets:\n  - title: Budget\n", "no id"},
		{"duplicate question", "questions:\n  - id: a\n  - id: a\n", "duplicate question"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if len(c.Places) == 0 || len(c.Datasets) == 0 {
		t.Error("default catalog should not be empty")
	}
	if len(c.YesNoQuestions()) != 9 {
		t.Errorf("default yes/no questions = %d, want 9", len(c.YesNoQuestions()))
	}
	if _, ok := c.Place("us"); !ok {
		t.Error("default catalog should contain us")
	}
	if _, ok := c.Dataset("budget"); !ok {
		t.Error("default catalog should contain budget")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(testCatalogYAML), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(c.Places) != 2 {
		t.Errorf("len(Places) = %d, want 2", len(c.Places))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStore_ReloadSwapsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(testCatalogYAML), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	store, err := NewStore(FileLoader(path))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	before := store.Snapshot()

	updated := testCatalogYAML + "  - id: details\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	after := store.Snapshot()
	if len(after.Questions) != len(before.Questions)+1 {
		t.Errorf("questions after reload = %d, want %d", len(after.Questions), len(before.Questions)+1)
	}
	if len(before.Questions) != 10 {
		t.Error("previous snapshot must not be mutated by reload")
	}
}

func TestStore_ReloadFailure_KeepsSnapshot(t *testing.T) {
	calls := 0
	store, err := NewStore(func() (*Catalog, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("boom")
		}
		return Parse([]byte(testCatalogYAML))
	})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	before := store.Snapshot()

	if err := store.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if store.Snapshot() != before {
		t.Error("failed reload should keep the previous snapshot")
	}
}

func TestNewStore_InitialLoadFailure(t *testing.T) {
	_, err := NewStore(func() (*Catalog, error) { return nil, errors.New("boom") })
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFileLoader_EmptyPathUsesDefault(t *testing.T) {
	c, err := FileLoader("")()
	if err != nil {
		t.Fatalf("FileLoader(\"\") failed: %v", err)
	}
	if c.Country.Name != "Open Data Census" {
		t.Errorf("Country.Name = %q", c.Country.Name)
	}
}

func TestStore_ConcurrentReadersDuringReload(t *testing.T) {
	store, err := NewStore(func() (*Catalog, error) { return Parse([]byte(testCatalogYAML)) })
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if store.Snapshot() == nil {
				t.Error("snapshot should never be nil")
			}
		}()
		go func() {
			defer wg.Done()
			_ = store.Reload()
		}()
	}
	wg.Wait()
}
