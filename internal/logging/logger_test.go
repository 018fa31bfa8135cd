package logging

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := &Logger{level: INFO, projectDir: t.TempDir(), maxSize: maxLogSize}
	require.NoError(t, l.init())
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLoggerWritesLevelsToFile(t *testing.T) {
	l := newTestLogger(t)

	l.Debug("hidden %d", 1)
	l.Info("captured %s", "button/primary")
	l.Warn("slow page")

	data, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] captured button/primary")
	assert.Contains(t, out, "[WARN] slow page")
	assert.Equal(t, filepath.Join(l.projectDir, ".vrt", "logs", "vrt.log"), l.GetLogPath())
}

func TestLoggerConsoleMirrorsWarnings(t *testing.T) {
	var console bytes.Buffer
	l := &Logger{level: DEBUG, logger: log.New(io.Discard, "", 0)}
	l.SetConsole(&console)

	l.Info("not mirrored")
	l.Error("baseline missing for %s", "card/dark")

	assert.Equal(t, "error: baseline missing for card/dark\n", console.String())
}

func TestLoggerRotates(t *testing.T) {
	l := newTestLogger(t)
	l.maxSize = 64

	for i := 0; i < 5; i++ {
		l.Info("line %d with enough text to pass the limit", i)
	}

	entries, err := os.ReadDir(filepath.Dir(l.GetLogPath()))
	require.NoError(t, err)
	assert.Greater(t, len(entries), 1)
}
