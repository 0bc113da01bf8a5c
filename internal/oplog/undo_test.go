package oplog_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/models"
	"github.com/mvasile/fileward/internal/oplog"
)

func testLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

func TestUndoEmptyLog(t *testing.T) {
	log := newLog(t)

	_, err := oplog.NewUndoer(log, false, testLogger()).UndoLast(3)
	assert.ErrorIs(t, err, models.ErrNothingToUndo)
}

// moveForTest performs a real move and records it the way the executor
// would.
func moveForTest(t *testing.T, log *oplog.Log, oldPath, newPath string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(newPath), 0755))
	require.NoError(t, os.Rename(oldPath, newPath))
	require.NoError(t, log.Append(oplog.Entry{
		Operation:   oplog.OpMove,
		FilePath:    filepath.Base(oldPath),
		OldLocation: oldPath,
		NewLocation: newPath,
		Status:      oplog.StatusSuccess,
	}))
}

func TestUndoLastRestoresFile(t *testing.T) {
	dir := t.TempDir()
	log := newLog(t)

	oldPath := filepath.Join(dir, "inbox", "report.pdf")
	newPath := filepath.Join(dir, "sorted", "Documents", "report.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(oldPath), 0755))
	require.NoError(t, os.WriteFile(oldPath, []byte("content"), 0644))

	moveForTest(t, log, oldPath, newPath)
	require.NoFileExists(t, oldPath)

	u := oplog.NewUndoer(log, false, testLogger())
	report, err := u.UndoLast(1)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Restored)
	assert.Empty(t, report.Failures)
	assert.FileExists(t, oldPath)
	assert.NoFileExists(t, newPath)

	// The reversal itself must be on the record.
	entries, err := log.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	last := entries[len(entries)-1]
	assert.Equal(t, oplog.OpMove, last.Operation)
	assert.Equal(t, newPath, last.OldLocation)
	assert.Equal(t, oldPath, last.NewLocation)
	assert.Equal(t, oplog.StatusSuccess, last.Status)
}

func TestUndoSkipsVanishedDestination(t *testing.T) {
	dir := t.TempDir()
	log := newLog(t)

	require.NoError(t, log.Append(oplog.Entry{
		Operation:   oplog.OpMove,
		FilePath:    "gone.txt",
		OldLocation: filepath.Join(dir, "gone.txt"),
		NewLocation: filepath.Join(dir, "sorted", "gone.txt"), // never created
		Status:      oplog.StatusSuccess,
	}))

	report, err := oplog.NewUndoer(log, false, testLogger()).UndoLast(1)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Restored)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Failures)
}

func TestUndoRefusesOccupiedOriginal(t *testing.T) {
	dir := t.TempDir()
	log := newLog(t)

	oldPath := filepath.Join(dir, "doc.txt")
	newPath := filepath.Join(dir, "sorted", "doc.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("v1"), 0644))
	moveForTest(t, log, oldPath, newPath)

	// Something else reclaimed the original path.
	require.NoError(t, os.WriteFile(oldPath, []byte("v2"), 0644))

	report, err := oplog.NewUndoer(log, false, testLogger()).UndoLast(1)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Restored)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "occupied")
	assert.FileExists(t, newPath, "refused undo must not touch the moved file")

	content, err := os.ReadFile(oldPath)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

func TestUndoOnlySelectsSuccessfulMoves(t *testing.T) {
	log := newLog(t)

	appendEntry := func(op oplog.Operation, status oplog.Status, name string) {
		require.NoError(t, log.Append(oplog.Entry{
			Operation: op, FilePath: name,
			OldLocation: "/old/" + name, NewLocation: "/new/" + name,
			Status: status,
		}))
	}
	appendEntry(oplog.OpMove, oplog.StatusSuccess, "a.txt")
	appendEntry(oplog.OpCopy, oplog.StatusSuccess, "b.txt")
	appendEntry(oplog.OpDelete, oplog.StatusSuccess, "c.txt")
	appendEntry(oplog.OpMove, oplog.StatusFailed, "d.txt")
	appendEntry(oplog.OpMove, oplog.StatusSimulated, "e.txt")
	appendEntry(oplog.OpMove, oplog.StatusSuccess, "f.txt")

	candidates, err := oplog.NewUndoer(log, false, testLogger()).Candidates(20)
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "f.txt", candidates[0].FilePath, "candidates are newest first")
	assert.Equal(t, "a.txt", candidates[1].FilePath)
}

func TestUndoDryRunSimulates(t *testing.T) {
	dir := t.TempDir()
	log := newLog(t)

	oldPath := filepath.Join(dir, "doc.txt")
	newPath := filepath.Join(dir, "sorted", "doc.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0644))
	moveForTest(t, log, oldPath, newPath)

	report, err := oplog.NewUndoer(log, true, testLogger()).UndoLast(1)
	require.NoError(t, err)

	assert.True(t, report.Simulated)
	assert.Equal(t, 1, report.Restored)
	assert.FileExists(t, newPath, "dry run must not move anything")
	assert.NoFileExists(t, oldPath)

	entries, err := log.Entries()
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, oplog.StatusSimulated, last.Status)
}
