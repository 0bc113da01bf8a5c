// Package testutil provides shared fixtures for integration tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvasile/fileward/internal/events"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// TreeFile describes one file to materialize in a test tree.
type TreeFile struct {
	Path    string
	Content string
	ModTime time.Time
}

// MakeTree writes the given files under root, creating directories as
// needed and applying mod times when set.
func MakeTree(t *testing.T, root string, files []TreeFile) {
	t.Helper()
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f.Path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(f.Content), 0644))
		if !f.ModTime.IsZero() {
			require.NoError(t, os.Chtimes(full, f.ModTime, f.ModTime))
		}
	}
}

// MakeAppDir creates a directory that the protection ruleset will treat
// as an installed application.
func MakeAppDir(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	MakeTree(t, dir, []TreeFile{
		{Path: name + ".exe", Content: "MZ\x90\x00"},
		{Path: "core.dll", Content: "MZ\x90\x00"},
		{Path: "settings.ini", Content: "[app]\n"},
	})
	return dir
}
