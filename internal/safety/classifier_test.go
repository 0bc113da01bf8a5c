package safety_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/safety"
)

func newClassifier(t *testing.T, cfg config.RulesConfig) *safety.Classifier {
	t.Helper()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	return safety.NewClassifier(cfg, logger)
}

func TestClassifyProtectedPaths(t *testing.T) {
	c := newClassifier(t, config.RulesConfig{})

	tests := []struct {
		name string
		path string
	}{
		{"windows system dir", `C:\Windows\System32\kernel32.dll`},
		{"program files", `C:\Program Files\SomeApp\readme.txt`},
		{"program files x86", `C:\Program Files (x86)\Tool\tool.cfg`},
		{"unix bin", "/usr/bin/ls"},
		{"unix etc", "/etc/hosts"},
		{"steam library on another drive", `D:\SteamLibrary\common\Game\settings.json`},
		{"epic games", `E:\Epic Games\Shooter\config.json`},
		{"battle.net", `D:\Battle.net\Agent\data.json`},
		{"jetbrains install", `D:\JetBrains\Toolbox\notes.txt`},
		{"appdata roaming", `C:\Users\alex\AppData\Roaming\App\settings.json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(tt.path)
			assert.False(t, v.Safe)
			assert.Equal(t, safety.ReasonProtectedPath, v.Reason)
			assert.NotEmpty(t, v.Detail)
		})
	}
}

func TestClassifyAppDataTempExempt(t *testing.T) {
	c := newClassifier(t, config.RulesConfig{})

	v := c.Classify(`C:\Users\alex\AppData\Local\Temp\download.pdf`)
	assert.True(t, v.Safe)

	v = c.Classify(`C:\Users\alex\AppData\Local\SomeApp\cache.bin`)
	assert.False(t, v.Safe)
	assert.Equal(t, safety.ReasonProtectedPath, v.Reason)
}

func TestClassifyProtectedTypes(t *testing.T) {
	dir := t.TempDir()
	c := newClassifier(t, config.RulesConfig{})

	tests := []struct {
		name string
		file string
	}{
		{"executable", "setup.exe"},
		{"shared library", "core.dll"},
		{"driver", "video.drv"},
		{"installer", "app.msi"},
		{"unreal pak", "content.pak"},
		{"unity bundle", "level.bundle"},
		{"bethesda plugin", "mod.esp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(filepath.Join(dir, tt.file))
			assert.False(t, v.Safe)
			assert.Equal(t, safety.ReasonProtectedType, v.Reason)
		})
	}
}

// A path inside a protected location always reports the path layer, even
// when the extension would also reject it on its own.
func TestClassifyLayerPriority(t *testing.T) {
	c := newClassifier(t, config.RulesConfig{})

	v := c.Classify(`C:\Program Files\SomeApp\data.sav`)
	require.False(t, v.Safe)
	assert.Equal(t, safety.ReasonProtectedPath, v.Reason)
	assert.Contains(t, v.Detail, "program files")

	v = c.Classify(`C:\Windows\System32\kernel32.dll`)
	require.False(t, v.Safe)
	assert.Equal(t, safety.ReasonProtectedPath, v.Reason)
}

func TestClassifySaveGameOutsideGameFolderIsSafe(t *testing.T) {
	dir := t.TempDir()
	c := newClassifier(t, config.RulesConfig{})

	v := c.Classify(filepath.Join(dir, "slot1.sav"))
	assert.True(t, v.Safe, "save extension alone must not reject without a gaming ancestor")
}

func TestClassifyApplicationAncestor(t *testing.T) {
	root := t.TempDir()
	appDir := filepath.Join(root, "installed-tool")
	dataDir := filepath.Join(appDir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(appDir, "tool.exe"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "tool.dll"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "notes.txt"), []byte("x"), 0644))

	c := newClassifier(t, config.RulesConfig{})

	v := c.Classify(filepath.Join(dataDir, "notes.txt"))
	require.False(t, v.Safe)
	assert.Equal(t, safety.ReasonAppAncestor, v.Reason)
	assert.Contains(t, v.Detail, appDir)
}

func TestClassifyUninstallerMarksApplication(t *testing.T) {
	root := t.TempDir()
	appDir := filepath.Join(root, "tool")
	sub := filepath.Join(appDir, "docs")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "unins000.exe"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "manual.txt"), []byte("x"), 0644))

	c := newClassifier(t, config.RulesConfig{})

	v := c.Classify(filepath.Join(sub, "manual.txt"))
	require.False(t, v.Safe)
	assert.Equal(t, safety.ReasonAppAncestor, v.Reason)
}

func TestClassifyEngineIndicatorSubdir(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "somegame")
	require.NoError(t, os.MkdirAll(filepath.Join(gameDir, "Engine"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(gameDir, "readme.txt"), []byte("x"), 0644))

	c := newClassifier(t, config.RulesConfig{})

	v := c.Classify(filepath.Join(gameDir, "readme.txt"))
	require.False(t, v.Safe)
	assert.Equal(t, safety.ReasonAppAncestor, v.Reason)
}

func TestClassifySafePaths(t *testing.T) {
	dir := t.TempDir()
	c := newClassifier(t, config.RulesConfig{})

	for _, name := range []string{"invoice.pdf", "photo.jpg", "notes.md", "archive.zip"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
		v := c.Classify(filepath.Join(dir, name))
		assert.True(t, v.Safe, "expected %s to be safe, got %s: %s", name, v.Reason, v.Detail)
		assert.Equal(t, safety.ReasonSafe, v.Reason)
	}
}

func TestClassifyMissingPathDoesNotReject(t *testing.T) {
	c := newClassifier(t, config.RulesConfig{})

	v := c.Classify(filepath.Join(t.TempDir(), "does", "not", "exist.txt"))
	assert.True(t, v.Safe)
}

func TestClassifyCustomRules(t *testing.T) {
	dir := t.TempDir()
	protected := filepath.Join(dir, "keep-out")
	require.NoError(t, os.MkdirAll(protected, 0755))

	c := newClassifier(t, config.RulesConfig{
		ProtectedPaths:      []string{protected},
		ProtectedExtensions: []string{"kdbx"},
	})

	v := c.Classify(filepath.Join(protected, "anything.txt"))
	require.False(t, v.Safe)
	assert.Equal(t, safety.ReasonProtectedPath, v.Reason)

	v = c.Classify(filepath.Join(dir, "vault.kdbx"))
	require.False(t, v.Safe)
	assert.Equal(t, safety.ReasonProtectedType, v.Reason)
}

func TestReloadSwapsRulesetAtomically(t *testing.T) {
	dir := t.TempDir()
	c := newClassifier(t, config.RulesConfig{})

	target := filepath.Join(dir, "ledger.fin")
	assert.True(t, c.Classify(target).Safe)

	c.Reload(config.RulesConfig{ProtectedExtensions: []string{".fin"}})

	v := c.Classify(target)
	require.False(t, v.Safe)
	assert.Equal(t, safety.ReasonProtectedType, v.Reason)
}

func TestValidateScanRoot(t *testing.T) {
	c := newClassifier(t, config.RulesConfig{})

	ok := c.ValidateScanRoot(t.TempDir())
	assert.True(t, ok.Safe)

	bad := c.ValidateScanRoot(`D:\SteamLibrary\common`)
	require.False(t, bad.Safe)
	assert.NotEmpty(t, bad.Detail)
}

func TestValidateScanRootRejectsApplicationDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.exe"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.dll"), []byte("x"), 0644))

	c := newClassifier(t, config.RulesConfig{})

	v := c.ValidateScanRoot(dir)
	require.False(t, v.Safe)
	assert.Contains(t, v.Detail, "installed application")
}
