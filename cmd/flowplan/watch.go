package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ktesting "github.com/ormasoftchile/flowplan/pkg/kernel/testing"
)

var (
	watchDebounce string
	watchTimeout  string
)

var watchCmd = &cobra.Command{
	Use:   "watch [catalog.yaml]",
	Short: "Re-run scenario tests whenever the catalog or its scenarios change",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	catalogPath := cfg.Catalog
	if len(args) == 1 {
		catalogPath = args[0]
	}
	if catalogPath == "" {
		return fmt.Errorf("pass a catalog or set catalog in the config")
	}
	debounce, err := time.ParseDuration(watchDebounce)
	if err != nil {
		return fmt.Errorf("invalid --debounce: %w", err)
	}
	timeout, err := time.ParseDuration(watchTimeout)
	if err != nil {
		return fmt.Errorf("invalid --timeout: %w", err)
	}

	runner := &ktesting.Runner{Timeout: timeout, Planner: cfg.Planner, Logger: logger}
	ctx := cmd.Context()

	w, err := newCatalogWatcher(catalogPath, debounce)
	if err != nil {
		return err
	}
	defer w.Close()

	run := 0
	rerun := func() {
		run++
		ts := time.Now().Format("15:04:05")
		output, err := runner.Run(ctx, catalogPath, "")
		if err != nil {
			fmt.Printf("%s  ! run %d: %v\n", ts, run, err)
			return
		}
		fmt.Printf("%s  run %d", ts, run)
		printTestOutput(output)
	}

	rerun()
	fmt.Printf("\nWatching %s (Ctrl+C to stop)\n", filepath.Dir(catalogPath))
	return w.Run(ctx, rerun)
}

// catalogWatcher watches a catalog's directory and its scenario tree,
// coalescing bursts of changes into one callback.
type catalogWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	mu       sync.Mutex
	pending  map[string]time.Time
}

func newCatalogWatcher(catalogPath string, debounce time.Duration) (*catalogWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	cw := &catalogWatcher{
		watcher:  watcher,
		debounce: debounce,
		pending:  make(map[string]time.Time),
	}
	if err := watcher.Add(filepath.Dir(catalogPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(catalogPath), err)
	}
	cw.addRecursive(ktesting.ScenariosDir(catalogPath))
	return cw, nil
}

// addRecursive adds dir and every subdirectory. A missing dir is skipped.
func (cw *catalogWatcher) addRecursive(dir string) {
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		if err := cw.watcher.Add(path); err != nil {
			logger.Debug("watch add failed", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

// relevant reports whether a change to path should trigger a re-run.
func relevant(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".tmpl", ".txt":
		return true
	}
	return false
}

func (cw *catalogWatcher) record(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			cw.addRecursive(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !relevant(event.Name) {
		return
	}
	cw.mu.Lock()
	cw.pending[event.Name] = time.Now()
	cw.mu.Unlock()
}

// due drains pending changes older than the debounce window.
func (cw *catalogWatcher) due(now time.Time) []string {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	var ready []string
	for path, at := range cw.pending {
		if now.Sub(at) >= cw.debounce {
			ready = append(ready, path)
			delete(cw.pending, path)
		}
	}
	return ready
}

// Run calls onChange after each settled burst of changes until ctx is done.
func (cw *catalogWatcher) Run(ctx context.Context, onChange func()) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			cw.record(event)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))

		case now := <-ticker.C:
			if changed := cw.due(now); len(changed) > 0 {
				logger.Debug("catalog changed", zap.Strings("files", changed))
				onChange()
			}
		}
	}
}

func (cw *catalogWatcher) Close() error {
	return cw.watcher.Close()
}

func init() {
	watchCmd.Flags().StringVar(&watchDebounce, "debounce", "300ms", "Quiet period before re-running")
	watchCmd.Flags().StringVar(&watchTimeout, "timeout", "30s", "Per-scenario timeout")
	rootCmd.AddCommand(watchCmd)
}
