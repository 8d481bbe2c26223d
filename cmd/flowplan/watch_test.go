package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	ktesting "github.com/ormasoftchile/flowplan/pkg/kernel/testing"
)

func TestRelevant(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"catalog.yaml", true},
		{"scenarios/catalog/basic/test.YML", true},
		{"plan.json", true},
		{"skills/summarize.tmpl", true},
		{"catalog.yaml.swp", false},
		{"notes", false},
	}
	for _, tc := range cases {
		if got := relevant(tc.path); got != tc.want {
			t.Errorf("relevant(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestCatalogWatcher_Debounce(t *testing.T) {
	logger = zap.NewNop()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	if err := os.MkdirAll(filepath.Join(ktesting.ScenariosDir(catalogPath), "basic"), 0o755); err != nil {
		t.Fatal(err)
	}

	cw, err := newCatalogWatcher(catalogPath, 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()

	start := time.Now()
	cw.record(fsnotify.Event{Name: catalogPath, Op: fsnotify.Write})
	cw.record(fsnotify.Event{Name: catalogPath, Op: fsnotify.Write})
	cw.record(fsnotify.Event{Name: filepath.Join(dir, "README"), Op: fsnotify.Write})
	cw.record(fsnotify.Event{Name: catalogPath, Op: fsnotify.Chmod})

	if got := cw.due(start); len(got) != 0 {
		t.Errorf("due before debounce = %v, want none", got)
	}
	got := cw.due(start.Add(time.Second))
	if len(got) != 1 || got[0] != catalogPath {
		t.Errorf("due after debounce = %v, want [%s]", got, catalogPath)
	}
	if got := cw.due(start.Add(2 * time.Second)); len(got) != 0 {
		t.Errorf("pending should be drained, got %v", got)
	}
}
