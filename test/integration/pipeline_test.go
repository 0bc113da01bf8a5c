//go:build integration
// +build integration

package integration_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvasile/fileward/internal/classify"
	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/duplicates"
	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/executor"
	"github.com/mvasile/fileward/internal/guardian"
	"github.com/mvasile/fileward/internal/history"
	"github.com/mvasile/fileward/internal/oplog"
	"github.com/mvasile/fileward/internal/organize"
	"github.com/mvasile/fileward/internal/safety"
	"github.com/mvasile/fileward/test/testutil"
)

type env struct {
	cfg      *config.Config
	logger   *events.Logger
	judge    *safety.Classifier
	exec     *executor.Executor
	log      *oplog.Log
	store    *history.SQLiteStore
	pipeline *organize.Pipeline
}

func newEnv(t *testing.T, modelURL, model string) *env {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Organize.BaseDestination = filepath.Join(root, "organized")
	cfg.Organize.DryRun = false
	cfg.Oplog.Path = filepath.Join(root, "operations.log")
	cfg.History.Path = filepath.Join(root, "history.db")
	cfg.Classifier.BaseURL = modelURL
	cfg.Classifier.Model = model
	cfg.Classifier.Timeout = 5 * time.Second

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	log, err := oplog.Open(cfg.Oplog.Path, logger)
	require.NoError(t, err)

	store, err := history.NewSQLiteStore(cfg.History.Path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	judge := safety.NewClassifier(cfg.Rules, logger)
	guard := guardian.NewRuleGuardian(cfg, logger)
	exec := executor.New(cfg, judge, guard, log, store, logger)
	classifier := classify.NewOllamaClassifier(&cfg.Classifier, logger)

	return &env{
		cfg:      cfg,
		logger:   logger,
		judge:    judge,
		exec:     exec,
		log:      log,
		store:    store,
		pipeline: organize.New(cfg, judge, classifier, exec, logger),
	}
}

func TestOrganizeAndUndoRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewModelServer("test-model")
	defer server.Close()

	e := newEnv(t, server.URL, "test-model")
	ctx := context.Background()

	inbox := filepath.Join(t.TempDir(), "downloads")
	testutil.MakeTree(t, inbox, []testutil.TreeFile{
		{Path: "invoice.pdf", Content: "invoice body"},
		{Path: "beach.jpg", Content: "jpeg bytes"},
		{Path: "unknown.zzz", Content: "mystery"},
	})

	report, err := e.pipeline.Run(ctx, inbox, false)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 1, report.Degraded)
	assert.GreaterOrEqual(t, server.Requests(), 3)

	movedInvoice := filepath.Join(e.cfg.Organize.BaseDestination, "Documents", "invoice.pdf")
	assert.FileExists(t, movedInvoice)

	// The audit trail saw every move.
	stats, err := e.store.QueryStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalActions)

	// Undo puts everything back.
	undoer := oplog.NewUndoer(e.log, false, e.logger)
	undoReport, err := undoer.UndoLast(3)
	require.NoError(t, err)
	assert.Equal(t, 3, undoReport.Restored)
	assert.FileExists(t, filepath.Join(inbox, "invoice.pdf"))
	assert.NoFileExists(t, movedInvoice)
}

func TestProtectedFilesSurviveFullRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewModelServer("test-model")
	defer server.Close()
	server.Route(".exe", testutil.ModelAnswer{
		Category: "Programs", SuggestedPath: "Programs", Confidence: "high",
	})

	e := newEnv(t, server.URL, "test-model")
	ctx := context.Background()

	inbox := filepath.Join(t.TempDir(), "downloads")
	appDir := testutil.MakeAppDir(t, inbox, "BundledTool")
	testutil.MakeTree(t, inbox, []testutil.TreeFile{
		{Path: "notes.pdf", Content: "fine to move"},
	})

	report, err := e.pipeline.Run(ctx, inbox, true)
	require.NoError(t, err)

	// The loose pdf moves, the application files are refused in place.
	assert.FileExists(t, filepath.Join(e.cfg.Organize.BaseDestination, "Documents", "notes.pdf"))
	assert.FileExists(t, filepath.Join(appDir, "BundledTool.exe"))
	assert.FileExists(t, filepath.Join(appDir, "core.dll"))
	assert.Greater(t, report.Refused, 0)
}

func TestDuplicateCleanupEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewModelServer("test-model")
	defer server.Close()

	e := newEnv(t, server.URL, "test-model")
	ctx := context.Background()

	stash := filepath.Join(t.TempDir(), "stash")
	old := time.Now().Add(-48 * time.Hour)
	testutil.MakeTree(t, stash, []testutil.TreeFile{
		{Path: "copy1.dat", Content: "same large payload padded out to pass the size floor....", ModTime: old},
		{Path: "copy2.dat", Content: "same large payload padded out to pass the size floor...."},
		{Path: "other.dat", Content: "different payload entirely, also past the size floor...."},
	})

	e.cfg.Duplicates.MinFileSize = 16
	e.cfg.Duplicates.DeletionWhitelist = []string{stash}
	engine := duplicates.NewEngine(e.cfg.Duplicates, e.judge, e.log, nil, e.logger)

	groups, err := engine.FindDuplicates(ctx, []string{stash})
	require.NoError(t, err)
	require.Len(t, groups, 1)

	result := engine.Cleanup(ctx, groups[0], false)
	assert.Equal(t, 1, result.DeletedCount)
	assert.Empty(t, result.Errors)

	// The newer copy survives.
	assert.FileExists(t, filepath.Join(stash, "copy2.dat"))
	assert.NoFileExists(t, filepath.Join(stash, "copy1.dat"))

	entries, err := e.log.Entries()
	require.NoError(t, err)
	var deletes int
	for _, entry := range entries {
		if entry.Operation == oplog.OpDelete && entry.Status == oplog.StatusSuccess {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes)
}
