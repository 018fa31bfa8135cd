package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lance13c/vrt/internal/logging"
)

// Ignorer reports paths excluded by version control
type Ignorer interface {
	IsIgnored(path string, isDir bool) bool
}

// FileWatcher monitors a project tree and reports debounced batches of
// changed files
type FileWatcher struct {
	projectRoot string
	ignorer     Ignorer
	watcher     *fsnotify.Watcher

	// Configuration
	debounce       time.Duration
	ignorePatterns []string
	extensions     map[string]bool

	// State
	mu           sync.RWMutex
	isWatching   bool
	pendingFiles map[string]time.Time

	onFileChanged func(files []string) error
}

// Config configures the file watcher
type Config struct {
	Debounce       time.Duration
	IgnorePatterns []string
	Extensions     []string
}

// DefaultConfig watches sources, styles, configs and images, and skips
// generated artifacts
func DefaultConfig() Config {
	return Config{
		Debounce: 500 * time.Millisecond,
		IgnorePatterns: []string{
			"node_modules/**",
			".git/**",
			"dist/**",
			"build/**",
			"storybook-static/**",
			"coverage/**",
			".vrt/actuals/**",
			".vrt/diffs/**",
			".vrt/cache/**",
			".vrt/logs/**",
			"*.log",
			"*.tmp",
		},
		Extensions: []string{
			".js", ".jsx", ".ts", ".tsx", ".mjs",
			".vue", ".svelte", ".html",
			".css", ".scss", ".sass", ".less",
			".yaml", ".yml", ".json",
			".png", ".jpg", ".jpeg", ".svg",
		},
	}
}

// NewFileWatcher creates a watcher for projectRoot. ignorer may be nil.
func NewFileWatcher(projectRoot string, config Config, ignorer Ignorer) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	exts := make(map[string]bool, len(config.Extensions))
	for _, e := range config.Extensions {
		exts[strings.ToLower(e)] = true
	}
	debounce := config.Debounce
	if debounce <= 0 {
		debounce = DefaultConfig().Debounce
	}

	return &FileWatcher{
		projectRoot:    projectRoot,
		ignorer:        ignorer,
		watcher:        watcher,
		debounce:       debounce,
		ignorePatterns: config.IgnorePatterns,
		extensions:     exts,
		pendingFiles:   make(map[string]time.Time),
	}, nil
}

// SetChangeCallback sets the function called with each batch of changes
func (fw *FileWatcher) SetChangeCallback(callback func(files []string) error) {
	fw.onFileChanged = callback
}

// Start watches until ctx is done. Callback errors are logged and do not
// stop the watcher.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mu.Lock()
	if fw.isWatching {
		fw.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	fw.isWatching = true
	fw.mu.Unlock()
	defer fw.Stop()

	if err := fw.addWatchPaths(fw.projectRoot); err != nil {
		return fmt.Errorf("failed to add watch paths: %w", err)
	}

	ticker := time.NewTicker(fw.debounce / 2)
	defer ticker.Stop()

	logging.Info("watching %s for changes (debounce %v)", fw.projectRoot, fw.debounce)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logging.Warn("file watcher error: %v", err)

		case <-ticker.C:
			if err := fw.processPendingFiles(); err != nil {
				logging.Error("error processing file changes: %v", err)
			}
		}
	}
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.isWatching {
		fw.watcher.Close()
		fw.isWatching = false
		logging.Info("file watcher stopped")
	}
}

// IsWatching returns true if the watcher is currently active
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return fw.isWatching
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !fw.shouldIgnorePath(event.Name, true) {
				if err := fw.addWatchPaths(event.Name); err != nil {
					logging.Warn("could not watch new directory %s: %v", event.Name, err)
				}
			}
			return
		}
	}

	if fw.shouldIgnorePath(event.Name, false) || !fw.isRelevantFile(event.Name) {
		return
	}

	fw.mu.Lock()
	fw.pendingFiles[event.Name] = time.Now()
	fw.mu.Unlock()
}

// addWatchPaths adds root and its non-ignored subdirectories
func (fw *FileWatcher) addWatchPaths(root string) error {
	if err := fw.watcher.Add(root); err != nil {
		return err
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		if fw.shouldIgnorePath(path, true) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			logging.Warn("could not watch directory %s: %v", path, err)
		}
		return nil
	})
}

// shouldIgnorePath applies ignore patterns, .gitignore and hidden-file rules.
// The .vrt directory holds config and baselines and is always watched.
func (fw *FileWatcher) shouldIgnorePath(path string, isDir bool) bool {
	relPath, err := filepath.Rel(fw.projectRoot, path)
	if err != nil {
		relPath = path
	}
	relPath = filepath.ToSlash(relPath)

	for _, pattern := range fw.ignorePatterns {
		if matchesPattern(relPath, pattern) {
			return true
		}
	}

	if relPath == ".vrt" || strings.HasPrefix(relPath, ".vrt/") {
		return false
	}

	if fw.ignorer != nil && fw.ignorer.IsIgnored(path, isDir) {
		return true
	}

	base := filepath.Base(relPath)
	return strings.HasPrefix(base, ".") && base != "."
}

// matchesPattern checks if a slash-separated path matches a glob-style
// pattern; "dir/**" matches everything below dir
func matchesPattern(path, pattern string) bool {
	if strings.Contains(pattern, "**") {
		parts := strings.Split(pattern, "**")
		if len(parts) == 2 {
			prefix := strings.TrimSuffix(parts[0], "/")
			suffix := strings.TrimPrefix(parts[1], "/")

			if prefix != "" && path != prefix && !strings.HasPrefix(path, prefix+"/") {
				return false
			}
			if suffix != "" && !strings.HasSuffix(path, suffix) {
				return false
			}
			return true
		}
	}

	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}
	// Patterns without a slash also match the base name at any depth
	if !strings.Contains(pattern, "/") {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched
	}
	return false
}

func (fw *FileWatcher) isRelevantFile(path string) bool {
	if len(fw.extensions) == 0 {
		return true
	}
	return fw.extensions[strings.ToLower(filepath.Ext(path))]
}

// processPendingFiles hands files quiet for a full debounce period to the
// callback
func (fw *FileWatcher) processPendingFiles() error {
	fw.mu.Lock()
	if len(fw.pendingFiles) == 0 {
		fw.mu.Unlock()
		return nil
	}

	threshold := time.Now().Add(-fw.debounce)
	var filesToProcess []string
	for file, timestamp := range fw.pendingFiles {
		if timestamp.Before(threshold) {
			filesToProcess = append(filesToProcess, file)
			delete(fw.pendingFiles, file)
		}
	}
	fw.mu.Unlock()

	if len(filesToProcess) == 0 {
		return nil
	}
	sort.Strings(filesToProcess)

	logging.Info("detected changes in %d file(s)", len(filesToProcess))
	if fw.onFileChanged != nil {
		return fw.onFileChanged(filesToProcess)
	}
	return nil
}

// GetWatchedPaths returns all currently watched paths
func (fw *FileWatcher) GetWatchedPaths() []string {
	return fw.watcher.WatchList()
}

// GetPendingFiles returns files waiting for debounce
func (fw *FileWatcher) GetPendingFiles() map[string]time.Time {
	fw.mu.RLock()
	defer fw.mu.RUnlock()

	result := make(map[string]time.Time)
	for k, v := range fw.pendingFiles {
		result[k] = v
	}
	return result
}
