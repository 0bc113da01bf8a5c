// Package duplicates finds files with identical content and cleans up
// redundant copies under strict safety gates.
package duplicates

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mvasile/fileward/internal/archive"
	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/models"
	"github.com/mvasile/fileward/internal/oplog"
	"github.com/mvasile/fileward/internal/safety"
)

const hashChunkSize = 32 * 1024

// Engine scans for duplicate content and deletes redundant copies. All
// deletion paths re-validate against the safety classifier and the
// deletion whitelist immediately before unlinking.
type Engine struct {
	cfg        config.DuplicatesConfig
	classifier *safety.Classifier
	log        *oplog.Log
	store      archive.Store // nil disables archive-before-delete
	logger     *events.Logger

	whitelist []string
}

// CleanupResult reports one group's cleanup.
type CleanupResult struct {
	Kept         string
	DeletedCount int
	FreedBytes   int64
	Archived     int
	DryRun       bool
	Errors       []string
}

// Summary aggregates a scan for reporting.
type Summary struct {
	Groups      int
	Files       int
	WastedBytes int64
}

func NewEngine(cfg config.DuplicatesConfig, classifier *safety.Classifier, log *oplog.Log, store archive.Store, logger *events.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		log:        log,
		store:      store,
		logger:     logger.WithField("component", "duplicates"),
		whitelist:  resolveWhitelist(cfg.DeletionWhitelist),
	}
}

// FindDuplicates enumerates every root, hashes candidate files with a
// bounded worker pool and groups identical content. Cancellation discards
// partial groups: a canceled scan returns no groups at all rather than a
// plausible-looking incomplete set.
func (e *Engine) FindDuplicates(ctx context.Context, roots []string) ([]models.DuplicateGroup, error) {
	candidates, err := e.enumerate(ctx, roots)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"roots":      len(roots),
		"candidates": len(candidates),
	}).Debug("hashing candidates")

	type hashed struct {
		record models.FileRecord
		hash   string
	}

	jobs := make(chan models.FileRecord)
	results := make(chan hashed)

	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				digest, err := e.hashFile(record.Path)
				if err != nil {
					// A file that cannot be hashed is excluded, never
					// grouped on a guess.
					e.logger.WithError(err).WithField("path", record.Path).Warn("hashing failed, file excluded")
					continue
				}
				select {
				case results <- hashed{record: record, hash: digest}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, record := range candidates {
			select {
			case jobs <- record:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	byHash := make(map[string][]models.FileRecord)
	for h := range results {
		byHash[h.hash] = append(byHash[h.hash], h.record)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var groups []models.DuplicateGroup
	for digest, files := range byHash {
		if len(files) < 2 {
			continue
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		var total int64
		for _, f := range files {
			total += f.Size
		}
		groups = append(groups, models.DuplicateGroup{
			Hash:      digest,
			Files:     files,
			TotalSize: total,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Hash < groups[j].Hash })

	e.logger.WithField("groups", len(groups)).Info("duplicate scan complete")
	return groups, nil
}

// SuggestResolution proposes which member to keep.
func (e *Engine) SuggestResolution(group models.DuplicateGroup) models.Resolution {
	return models.ResolveNewest(group)
}

// FilterProtected partitions groups: a group with any protected member is
// excluded whole, reported by count rather than silently dropped.
func (e *Engine) FilterProtected(groups []models.DuplicateGroup) (safe []models.DuplicateGroup, protectedGroups, protectedFiles int) {
	for _, group := range groups {
		offending := 0
		for _, f := range group.Files {
			if verdict := e.classifier.Classify(f.Path); !verdict.Safe {
				offending++
			}
		}
		if offending > 0 {
			protectedGroups++
			protectedFiles += len(group.Files)
			continue
		}
		safe = append(safe, group)
	}
	return safe, protectedGroups, protectedFiles
}

// Cleanup deletes the redundant members of one group. Every candidate is
// re-validated against the classifier and the whitelist at delete time,
// never trusting a stale resolution. With an archive store configured,
// each file is archived before it is unlinked.
func (e *Engine) Cleanup(ctx context.Context, group models.DuplicateGroup, dryRun bool) CleanupResult {
	resolution := e.SuggestResolution(group)
	result := CleanupResult{Kept: resolution.Keep.Path, DryRun: dryRun}

	for _, candidate := range resolution.Delete {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", candidate.Path, err))
			return result
		}

		if verdict := e.classifier.Classify(candidate.Path); !verdict.Safe {
			e.logger.WithFields(map[string]interface{}{
				"path":   candidate.Path,
				"reason": string(verdict.Reason),
			}).Warn("cleanup skipped protected file")
			rejection := &models.SafetyError{
				Path:   candidate.Path,
				Reason: string(verdict.Reason),
				Detail: verdict.Detail,
			}
			result.Errors = append(result.Errors, rejection.Error())
			continue
		}

		if err := e.checkWhitelist(candidate.Path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", candidate.Path, err))
			continue
		}

		if dryRun {
			e.appendDelete(candidate.Path, oplog.StatusSimulated)
			result.DeletedCount++
			result.FreedBytes += candidate.Size
			continue
		}

		if e.store != nil && e.cfg.ArchiveBeforeDelete {
			key := archive.DefaultKey(candidate.Path, time.Now())
			if _, err := e.store.Put(ctx, candidate.Path, key); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: archive failed: %v", candidate.Path, err))
				continue // never delete what we failed to archive
			}
			result.Archived++
		}

		if err := os.Remove(candidate.Path); err != nil {
			e.appendDelete(candidate.Path, oplog.StatusFailed)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", candidate.Path, err))
			continue
		}
		e.appendDelete(candidate.Path, oplog.StatusSuccess)
		result.DeletedCount++
		result.FreedBytes += candidate.Size
	}

	return result
}

// Summarize aggregates groups for reporting.
func (e *Engine) Summarize(groups []models.DuplicateGroup) Summary {
	var summary Summary
	for i := range groups {
		summary.Groups++
		summary.Files += len(groups[i].Files)
		summary.WastedBytes += groups[i].WastedBytes()
	}
	return summary
}

func (e *Engine) enumerate(ctx context.Context, roots []string) ([]models.FileRecord, error) {
	var candidates []models.FileRecord

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				// Unreadable subtrees are skipped, not fatal.
				e.logger.WithError(err).WithField("path", path).Debug("skipping unreadable entry")
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			// Empty files all hash identically and carry no reclaimable
			// space; they are never duplicate candidates regardless of
			// the configured minimum.
			if info.Size() == 0 || info.Size() < e.cfg.MinFileSize {
				return nil
			}

			candidates = append(candidates, models.FileRecord{
				Path:         path,
				Size:         info.Size(),
				ModifiedTime: info.ModTime(),
				AccessedTime: models.AccessTime(info),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

// hashFile streams the file through the configured digest.
func (e *Engine) hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &models.HashError{Path: path, Err: err}
	}
	defer f.Close()

	var h hash.Hash
	switch e.cfg.HashAlgorithm {
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	default:
		h = xxhash.New()
	}

	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", &models.HashError{Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// checkWhitelist enforces the deletion-location whitelist: a delete
// candidate outside every whitelisted root is refused regardless of other
// approvals.
func (e *Engine) checkWhitelist(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	abs = filepath.Clean(abs)

	for _, root := range e.whitelist {
		if withinDir(abs, root) {
			return nil
		}
	}
	return fmt.Errorf("refusing delete of %s: %w", abs, models.ErrOutsideWhitelist)
}

func (e *Engine) appendDelete(path string, status oplog.Status) {
	if e.log == nil {
		return
	}
	err := e.log.Append(oplog.Entry{
		Operation:   oplog.OpDelete,
		FilePath:    filepath.Base(path),
		OldLocation: path,
		Status:      status,
	})
	if err != nil {
		e.logger.WithError(err).Error("failed to record deletion")
	}
}

func resolveWhitelist(entries []string) []string {
	home, _ := os.UserHomeDir()

	var resolved []string
	for _, entry := range entries {
		if strings.HasPrefix(entry, "~") {
			entry = filepath.Join(home, strings.TrimPrefix(entry, "~"))
		}
		abs, err := filepath.Abs(entry)
		if err != nil {
			continue
		}
		resolved = append(resolved, filepath.Clean(abs))
	}
	return resolved
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
