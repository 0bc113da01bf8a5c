package executor_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/executor"
	"github.com/mvasile/fileward/internal/guardian"
	"github.com/mvasile/fileward/internal/history"
	"github.com/mvasile/fileward/internal/models"
	"github.com/mvasile/fileward/internal/oplog"
	"github.com/mvasile/fileward/internal/safety"
)

type fixture struct {
	exec  *executor.Executor
	cfg   *config.Config
	log   *oplog.Log
	store *history.MockStore
	root  string
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Organize.BaseDestination = filepath.Join(root, "organized")
	cfg.Organize.DryRun = false
	cfg.Oplog.Path = filepath.Join(root, "operations.log")
	if mutate != nil {
		mutate(cfg)
	}

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	log, err := oplog.Open(cfg.Oplog.Path, logger)
	require.NoError(t, err)

	classifier := safety.NewClassifier(cfg.Rules, logger)
	guard := guardian.NewRuleGuardian(cfg, logger)
	store := history.NewMockStore()

	return &fixture{
		exec:  executor.New(cfg, classifier, guard, log, store, logger),
		cfg:   cfg,
		log:   log,
		store: store,
		root:  root,
	}
}

func (f *fixture) writeSource(t *testing.T, name, content string) string {
	t.Helper()
	dir := filepath.Join(f.root, "inbox")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestExecuteMove(t *testing.T) {
	f := newFixture(t, nil)
	src := f.writeSource(t, "report.pdf", "quarterly numbers")

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		Category:      "Documents",
		SuggestedPath: "Documents/Reports",
	})

	require.True(t, result.Success, result.Message)
	assert.Equal(t, models.ActionMove, result.Action)
	assert.Equal(t, filepath.Join(f.cfg.Organize.BaseDestination, "Documents", "Reports", "report.pdf"), result.NewPath)
	assert.InDelta(t, 0.3, result.TimeSaved, 0.001)

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source should be gone")
	moved, err := os.ReadFile(result.NewPath)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(moved))

	entries, err := f.log.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, oplog.OpMove, entries[0].Operation)
	assert.Equal(t, oplog.StatusSuccess, entries[0].Status)
	assert.Equal(t, src, entries[0].OldLocation)

	actions, err := f.store.QueryHistory(10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "move", actions[0].Operation)
	assert.Equal(t, "Documents", actions[0].Category)
}

func TestExecuteMoveAndRename(t *testing.T) {
	f := newFixture(t, nil)
	src := f.writeSource(t, "IMG_4417.jpg", "pixels")

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		Category:      "Pictures",
		SuggestedPath: "Pictures/2026",
		RenameTo:      "beach_sunset.jpg",
	})

	require.True(t, result.Success, result.Message)
	assert.Equal(t, "beach_sunset.jpg", filepath.Base(result.NewPath))
	assert.FileExists(t, result.NewPath)
}

func TestExecuteRenameInPlace(t *testing.T) {
	f := newFixture(t, nil)
	src := f.writeSource(t, "untitled(3).txt", "notes")

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath: src,
		Category:   "Documents",
		RenameTo:   "meeting_notes.txt",
	})

	require.True(t, result.Success, result.Message)
	assert.Equal(t, models.ActionRename, result.Action)
	assert.Equal(t, filepath.Dir(src), filepath.Dir(result.NewPath))
	assert.FileExists(t, result.NewPath)

	// Renames are recorded as moves so they can be undone.
	entries, err := f.log.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, oplog.OpMove, entries[0].Operation)
}

func TestExecuteMissingFile(t *testing.T) {
	f := newFixture(t, nil)

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    filepath.Join(f.root, "inbox", "ghost.txt"),
		SuggestedPath: "Documents",
	})

	assert.False(t, result.Success)
	assert.Equal(t, models.ActionNone, result.Action)
	assert.Equal(t, "File not found", result.Message)

	// A vanished source leaves no trace in the operation log.
	entries, err := f.log.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteNoActionSuggested(t *testing.T) {
	f := newFixture(t, nil)
	src := f.writeSource(t, "mystery.bin", "data")

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath: src,
		Category:   "Unsorted",
	})

	assert.Equal(t, models.ActionNone, result.Action)
	assert.Equal(t, "No action suggested", result.Message)
	assert.FileExists(t, src)
}

func TestExecuteValidationGates(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Organize.MaxFileSize = 10
	})

	t.Run("empty file", func(t *testing.T) {
		src := f.writeSource(t, "zero.txt", "")
		result := f.exec.Execute(context.Background(), models.ActionRequest{
			SourcePath: src, SuggestedPath: "Documents",
		})
		assert.Equal(t, models.ActionBlocked, result.Action)
		assert.Contains(t, result.Message, "empty file")
	})

	t.Run("oversized file", func(t *testing.T) {
		src := f.writeSource(t, "big.iso", "more than ten bytes of content")
		result := f.exec.Execute(context.Background(), models.ActionRequest{
			SourcePath: src, SuggestedPath: "Archives",
		})
		assert.Equal(t, models.ActionBlocked, result.Action)
		assert.Contains(t, result.Message, "size limit")
	})

	t.Run("control characters in source", func(t *testing.T) {
		result := f.exec.Execute(context.Background(), models.ActionRequest{
			SourcePath: "/tmp/evil\x00name", SuggestedPath: "Documents",
		})
		assert.Equal(t, models.ActionBlocked, result.Action)
		assert.Contains(t, result.Message, "control characters")
	})

	t.Run("traversal in suggested path", func(t *testing.T) {
		src := f.writeSource(t, "sneaky.txt", "hi")
		result := f.exec.Execute(context.Background(), models.ActionRequest{
			SourcePath: src, SuggestedPath: "../../etc",
		})
		assert.Equal(t, models.ActionBlocked, result.Action)
		assert.Contains(t, result.Message, "traversal")
	})

	t.Run("absolute suggested path", func(t *testing.T) {
		src := f.writeSource(t, "abs.txt", "hi")
		result := f.exec.Execute(context.Background(), models.ActionRequest{
			SourcePath: src, SuggestedPath: "/etc/cron.d",
		})
		assert.Equal(t, models.ActionBlocked, result.Action)
		assert.Contains(t, result.Message, "relative")
	})

	t.Run("separators in rename target", func(t *testing.T) {
		src := f.writeSource(t, "ren.txt", "hi")
		result := f.exec.Execute(context.Background(), models.ActionRequest{
			SourcePath: src, RenameTo: "sub/dir.txt",
		})
		assert.Equal(t, models.ActionBlocked, result.Action)
		assert.Contains(t, result.Message, "separators")
	})
}

func TestExecuteFolderPolicy(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Organize.FolderPolicies = map[string]config.FolderPolicy{
			"Archives": {AllowMove: false, AllowCopy: true, AllowRename: false},
		}
	})
	src := f.writeSource(t, "backup.zip", "zipped")

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		Category:      "Archives",
		SuggestedPath: "Archives",
	})
	assert.Equal(t, models.ActionBlocked, result.Action)
	assert.Contains(t, result.Message, "folder policy")
	assert.FileExists(t, src)

	// Copy is still permitted by the same policy.
	result = f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		Category:      "Archives",
		SuggestedPath: "Archives",
		Operation:     models.OpCopy,
	})
	require.True(t, result.Success, result.Message)
	assert.Equal(t, models.ActionCopy, result.Action)
	assert.FileExists(t, src)
	assert.FileExists(t, result.NewPath)
}

func TestExecuteBlacklist(t *testing.T) {
	f := newFixture(t, nil)
	src := f.writeSource(t, "project.go", "package main")
	f.cfg.Organize.PathBlacklist = []string{filepath.Dir(src)}

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		SuggestedPath: "Code",
	})
	assert.Equal(t, models.ActionBlocked, result.Action)
	assert.Contains(t, result.Message, "blacklisted")
	assert.FileExists(t, src)
}

func TestExecuteBlacklistOutranksDestinationValidation(t *testing.T) {
	f := newFixture(t, nil)
	src := f.writeSource(t, "project.go", "package main")
	f.cfg.Organize.PathBlacklist = []string{filepath.Dir(src)}

	// A blacklisted source with a bad suggestion still reports the
	// blacklist refusal, not the destination complaint.
	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		SuggestedPath: "../../escape",
	})
	assert.Equal(t, models.ActionBlocked, result.Action)
	assert.Contains(t, result.Message, "blacklisted")
	assert.FileExists(t, src)
}

func TestExecuteProtectedSource(t *testing.T) {
	f := newFixture(t, nil)

	appDir := filepath.Join(f.root, "inbox", "SomeTool")
	require.NoError(t, os.MkdirAll(appDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "tool.exe"), []byte("MZ"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "core.dll"), []byte("MZ"), 0644))

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    filepath.Join(appDir, "tool.exe"),
		SuggestedPath: "Programs",
	})
	assert.Equal(t, models.ActionBlocked, result.Action)
	assert.Contains(t, result.Message, "protected")
}

type denyGuardian struct {
	decision guardian.Decision
}

func (d *denyGuardian) EvaluateOperation(ctx context.Context, op guardian.Operation) guardian.Decision {
	return d.decision
}

func TestExecuteGuardianBlock(t *testing.T) {
	f := newFixture(t, nil)
	src := f.writeSource(t, "risky.txt", "content")

	decision := guardian.Decision{
		Approved:  false,
		RiskLevel: guardian.RiskCritical,
		Reasoning: "critical risk detected",
	}

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	classifier := safety.NewClassifier(f.cfg.Rules, logger)
	exec := executor.New(f.cfg, classifier, &denyGuardian{decision: decision}, f.log, f.store, logger)

	result := exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		SuggestedPath: "Documents",
	})

	assert.False(t, result.Success)
	assert.Equal(t, models.ActionBlockedByGuardian, result.Action)
	assert.Equal(t, "critical risk detected", result.Message)
	require.NotNil(t, result.Decision)
	got, ok := result.Decision.(guardian.Decision)
	require.True(t, ok)
	assert.Equal(t, guardian.RiskCritical, got.RiskLevel)
	assert.FileExists(t, src)
}

func TestExecuteConflictCounter(t *testing.T) {
	f := newFixture(t, nil)

	destDir := filepath.Join(f.cfg.Organize.BaseDestination, "Documents")
	require.NoError(t, os.MkdirAll(destDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "notes.txt"), []byte("old"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "notes_1.txt"), []byte("older"), 0644))

	src := f.writeSource(t, "notes.txt", "new")
	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		SuggestedPath: "Documents",
	})

	require.True(t, result.Success, result.Message)
	assert.True(t, strings.HasSuffix(result.NewPath, "notes_2.txt"), result.NewPath)

	// Existing files are untouched.
	old, err := os.ReadFile(filepath.Join(destDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestExecuteDryRun(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Organize.DryRun = true
	})
	src := f.writeSource(t, "draft.md", "words")

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		SuggestedPath: "Documents/Drafts",
	})

	require.True(t, result.Success)
	assert.True(t, result.Simulated)
	assert.Equal(t, models.ActionSimulated, result.Action)
	assert.FileExists(t, src, "dry run must not touch the source")

	entries, err := f.log.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, oplog.StatusSimulated, entries[0].Status)

	// Simulated operations never reach the audit trail.
	actions, err := f.store.QueryHistory(10)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestExecuteHistoryFailureDoesNotFailAction(t *testing.T) {
	f := newFixture(t, nil)
	f.store.FailWith = assert.AnError
	src := f.writeSource(t, "resilient.txt", "content")

	result := f.exec.Execute(context.Background(), models.ActionRequest{
		SourcePath:    src,
		SuggestedPath: "Documents",
	})

	require.True(t, result.Success, result.Message)
	assert.FileExists(t, result.NewPath)
}

func TestExecuteBatch(t *testing.T) {
	f := newFixture(t, nil)
	a := f.writeSource(t, "a.txt", "a")
	b := f.writeSource(t, "b.txt", "b")

	results := f.exec.ExecuteBatch(context.Background(), []models.ActionRequest{
		{SourcePath: a, SuggestedPath: "Documents"},
		{SourcePath: b, SuggestedPath: "Documents"},
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestExecuteConcurrentSameDestination(t *testing.T) {
	f := newFixture(t, nil)

	srcA := filepath.Join(f.root, "inbox", "a", "notes.txt")
	srcB := filepath.Join(f.root, "inbox", "b", "notes.txt")
	for src, content := range map[string]string{srcA: "from a", srcB: "from b"} {
		require.NoError(t, os.MkdirAll(filepath.Dir(src), 0755))
		require.NoError(t, os.WriteFile(src, []byte(content), 0644))
	}

	// Both sources resolve to base/Documents/notes.txt; the lock on the
	// shared destination orders them so the loser picks up the counter
	// suffix instead of replacing the winner.
	results := make([]models.ActionResult, 2)
	var wg sync.WaitGroup
	for i, src := range []string{srcA, srcB} {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			results[i] = f.exec.Execute(context.Background(), models.ActionRequest{
				SourcePath:    src,
				Category:      "Documents",
				SuggestedPath: "Documents",
			})
		}(i, src)
	}
	wg.Wait()

	require.True(t, results[0].Success, results[0].Message)
	require.True(t, results[1].Success, results[1].Message)
	assert.NotEqual(t, results[0].NewPath, results[1].NewPath)

	var contents []string
	for _, result := range results {
		data, err := os.ReadFile(result.NewPath)
		require.NoError(t, err)
		contents = append(contents, string(data))
	}
	assert.ElementsMatch(t, []string{"from a", "from b"}, contents)
}
