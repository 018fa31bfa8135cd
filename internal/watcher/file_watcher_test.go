package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		path, pattern string
		want          bool
	}{
		{"node_modules/react/index.js", "node_modules/**", true},
		{"node_modules", "node_modules/**", true},
		{"node_modules_extra/a.js", "node_modules/**", false},
		{".vrt/actuals/button/primary.png", ".vrt/actuals/**", true},
		{".vrt/baselines/button/primary.png", ".vrt/actuals/**", false},
		{"logs/run.log", "*.log", true},
		{"src/button.css", "*.log", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchesPattern(tt.path, tt.pattern), "%s ~ %s", tt.path, tt.pattern)
	}
}

type ignoreList map[string]bool

func (l ignoreList) IsIgnored(path string, isDir bool) bool {
	return l[filepath.Base(path)]
}

func TestShouldIgnorePath(t *testing.T) {
	root := t.TempDir()
	fw, err := NewFileWatcher(root, DefaultConfig(), ignoreList{"generated": true})
	require.NoError(t, err)
	defer fw.watcher.Close()

	assert.True(t, fw.shouldIgnorePath(filepath.Join(root, "node_modules", "x.js"), false))
	assert.True(t, fw.shouldIgnorePath(filepath.Join(root, ".vrt", "actuals"), true))
	assert.True(t, fw.shouldIgnorePath(filepath.Join(root, ".storybook"), true))
	assert.True(t, fw.shouldIgnorePath(filepath.Join(root, "src", "generated"), true))
	assert.False(t, fw.shouldIgnorePath(filepath.Join(root, ".vrt", "config.yaml"), false))
	assert.False(t, fw.shouldIgnorePath(filepath.Join(root, ".vrt", "baselines", "a.png"), false))
	assert.False(t, fw.shouldIgnorePath(filepath.Join(root, "src", "button.css"), false))
}

func TestWatcherDebouncesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0755))

	cfg := DefaultConfig()
	cfg.Debounce = 100 * time.Millisecond
	fw, err := NewFileWatcher(root, cfg, nil)
	require.NoError(t, err)

	batches := make(chan []string, 10)
	fw.SetChangeCallback(func(files []string) error {
		batches <- files
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Start(ctx) }()

	require.Eventually(t, func() bool { return fw.IsWatching() && len(fw.GetWatchedPaths()) >= 2 }, 2*time.Second, 10*time.Millisecond)

	css := filepath.Join(root, "src", "button.css")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(css, []byte("a{}"), 0644))
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "x.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "notes.txt"), []byte("x"), 0644))

	select {
	case files := <-batches:
		assert.Equal(t, []string{css}, files)
	case <-time.After(3 * time.Second):
		t.Fatal("no change batch delivered")
	}

	select {
	case files := <-batches:
		t.Fatalf("unexpected second batch: %v", files)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, fw.IsWatching())
}
