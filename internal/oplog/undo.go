package oplog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/models"
)

// Undoer reverses recent moves recorded in the log. Only successful MOVE
// entries are eligible: copies are reversed by deleting the copy on
// explicit request, deletes are not reversible at all.
type Undoer struct {
	log    *Log
	dryRun bool
	logger *events.Logger
}

// UndoReport summarizes one undo run.
type UndoReport struct {
	Restored  int
	Skipped   int
	Simulated bool
	Failures  []string
}

func NewUndoer(log *Log, dryRun bool, logger *events.Logger) *Undoer {
	return &Undoer{
		log:    log,
		dryRun: dryRun,
		logger: logger.WithField("component", "undo"),
	}
}

// Candidates returns the most recent undoable entries, newest first,
// capped at limit. Used for interactive selection.
func (u *Undoer) Candidates(limit int) ([]Entry, error) {
	entries, err := u.log.Entries()
	if err != nil {
		return nil, err
	}

	var moves []Entry
	for _, entry := range entries {
		if entry.Operation == OpMove && entry.Status == StatusSuccess {
			moves = append(moves, entry)
		}
	}

	// newest first
	for i, j := 0, len(moves)-1; i < j; i, j = i+1, j-1 {
		moves[i], moves[j] = moves[j], moves[i]
	}
	if limit > 0 && len(moves) > limit {
		moves = moves[:limit]
	}
	return moves, nil
}

// UndoLast reverses the n most recent successful moves.
func (u *Undoer) UndoLast(n int) (UndoReport, error) {
	candidates, err := u.Candidates(n)
	if err != nil {
		return UndoReport{}, err
	}
	if len(candidates) == 0 {
		return UndoReport{}, models.ErrNothingToUndo
	}
	return u.UndoEntries(candidates), nil
}

// UndoEntries reverses the given entries in order. A move whose recorded
// destination no longer exists is skipped, since a later operation may
// have moved the file again.
func (u *Undoer) UndoEntries(entries []Entry) UndoReport {
	report := UndoReport{Simulated: u.dryRun}

	for _, entry := range entries {
		switch err := u.undoOne(entry); {
		case err == nil:
			report.Restored++
		case os.IsNotExist(err):
			report.Skipped++
			u.logger.WithField("path", entry.NewLocation).Info("undo skipped, file no longer at destination")
		default:
			report.Failures = append(report.Failures,
				fmt.Sprintf("%s: %v", entry.FilePath, err))
			u.logger.WithError(err).WithField("file", entry.FilePath).Warn("undo failed")
		}
	}
	return report
}

func (u *Undoer) undoOne(entry Entry) error {
	if _, err := os.Stat(entry.NewLocation); err != nil {
		return err
	}

	record := Entry{
		Timestamp:   time.Now(),
		Operation:   OpMove,
		FilePath:    entry.FilePath,
		OldLocation: entry.NewLocation,
		NewLocation: entry.OldLocation,
	}

	if u.dryRun {
		record.Status = StatusSimulated
		return u.log.Append(record)
	}

	if _, err := os.Stat(entry.OldLocation); err == nil {
		return fmt.Errorf("original path %s is occupied", entry.OldLocation)
	}

	if err := os.MkdirAll(filepath.Dir(entry.OldLocation), 0755); err != nil {
		return fmt.Errorf("recreate original directory: %w", err)
	}
	if err := moveFile(entry.NewLocation, entry.OldLocation); err != nil {
		record.Status = StatusFailed
		if appendErr := u.log.Append(record); appendErr != nil {
			u.logger.WithError(appendErr).Error("failed to record undo failure")
		}
		return err
	}

	// The reversal is itself a move, so it is logged like any other.
	record.Status = StatusSuccess
	if err := u.log.Append(record); err != nil {
		u.logger.WithError(err).Error("failed to record undo")
	}

	u.logger.WithFields(map[string]interface{}{
		"from": entry.NewLocation,
		"to":   entry.OldLocation,
	}).Info("move undone")

	return nil
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
