// Package executor performs gated filesystem mutations. Every request
// passes input validation, folder policy, the safety classifier and the
// guardian before anything on disk changes, and every mutation lands in
// the operation log before the result is reported.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/guardian"
	"github.com/mvasile/fileward/internal/history"
	"github.com/mvasile/fileward/internal/models"
	"github.com/mvasile/fileward/internal/oplog"
	"github.com/mvasile/fileward/internal/safety"
)

const (
	maxPathLength    = 4096
	defaultTimeSaved = 0.3
)

// Executor consumes ActionRequests and produces ActionResults. Safe for
// concurrent use; mutations on the same source path are serialized.
type Executor struct {
	cfg      *config.Config
	safety   *safety.Classifier
	guard    guardian.Guardian
	log      *oplog.Log
	store    history.Store
	logger   *events.Logger
	dryRun   bool
	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

// New creates an executor. store may be nil when no audit trail is
// configured; the operation log is mandatory.
func New(cfg *config.Config, classifier *safety.Classifier, guard guardian.Guardian,
	log *oplog.Log, store history.Store, logger *events.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		safety:   classifier,
		guard:    guard,
		log:      log,
		store:    store,
		logger:   logger.WithField("component", "executor"),
		dryRun:   cfg.Organize.DryRun,
		inFlight: make(map[string]*sync.Mutex),
	}
}

// SetDryRun overrides the configured simulation mode.
func (e *Executor) SetDryRun(dry bool) { e.dryRun = dry }

// DryRun reports whether the executor is simulating.
func (e *Executor) DryRun() bool { return e.dryRun }

// Execute runs one request through the full gate chain. It never returns
// an error for a refused request; refusals are results with Success false
// and a Message naming the gate that fired.
func (e *Executor) Execute(ctx context.Context, req models.ActionRequest) models.ActionResult {
	if msg := validatePath(req.SourcePath); msg != "" {
		return e.refuse(req, models.ActionBlocked, msg)
	}

	info, err := os.Stat(req.SourcePath)
	if os.IsNotExist(err) {
		// A vanished source is not a safety event. No log entry.
		return models.ActionResult{
			Action:  models.ActionNone,
			OldPath: req.SourcePath,
			Message: "File not found",
		}
	}
	if err != nil {
		return e.refuse(req, models.ActionBlocked, fmt.Sprintf("cannot stat source: %v", err))
	}
	if info.IsDir() {
		return e.refuse(req, models.ActionBlocked, "source is a directory")
	}
	if max := e.cfg.Organize.MaxFileSize; max > 0 && info.Size() > max {
		return e.refuse(req, models.ActionBlocked,
			fmt.Sprintf("file exceeds size limit (%d > %d bytes)", info.Size(), max))
	}
	if info.Size() == 0 {
		return e.refuse(req, models.ActionBlocked, "empty file")
	}

	kind, ok := determineOperation(req)
	if !ok {
		return models.ActionResult{
			Action:  models.ActionNone,
			OldPath: req.SourcePath,
			Message: "No action suggested",
		}
	}

	if policy := e.cfg.Organize.Policy(req.Category); policy != nil && !policy.Allows(string(kind)) {
		return e.refuse(req, models.ActionBlocked,
			fmt.Sprintf("folder policy for %q does not allow %s", req.Category, kind))
	}

	// A blacklisted source is a policy refusal and outranks any complaint
	// about the suggested destination.
	if hit := e.blacklisted(req.SourcePath); hit != "" {
		return e.refuse(req, models.ActionBlocked,
			fmt.Sprintf("path is inside blacklisted location %s", hit))
	}

	dest, msg := e.buildDestination(req, kind)
	if msg != "" {
		return e.refuse(req, models.ActionBlocked, msg)
	}

	if hit := e.blacklisted(dest); hit != "" {
		return e.refuse(req, models.ActionBlocked,
			fmt.Sprintf("path is inside blacklisted location %s", hit))
	}

	if verdict := e.safety.Classify(req.SourcePath); !verdict.Safe {
		return e.refuse(req, models.ActionBlocked,
			fmt.Sprintf("protected file (%s): %s", verdict.Reason, verdict.Detail))
	}

	decision := e.guard.EvaluateOperation(ctx, guardian.Operation{
		SourcePath:      req.SourcePath,
		DestinationPath: dest,
		Kind:            kind,
		Category:        req.Category,
		UserApproved:    req.Approved,
	})
	if !decision.Approved {
		e.logger.WithFields(map[string]interface{}{
			"source": req.SourcePath,
			"risk":   decision.RiskLevel,
		}).Warn("operation blocked by guardian")
		return models.ActionResult{
			Action:   models.ActionBlockedByGuardian,
			OldPath:  req.SourcePath,
			Message:  decision.Reasoning,
			Decision: decision,
		}
	}

	if e.dryRun {
		return e.simulate(req, kind, dest, decision)
	}
	return e.perform(ctx, req, kind, dest, decision)
}

// ExecuteBatch runs requests in order, stopping early only on context
// cancellation.
func (e *Executor) ExecuteBatch(ctx context.Context, reqs []models.ActionRequest) []models.ActionResult {
	results := make([]models.ActionResult, 0, len(reqs))
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.Execute(ctx, req))
	}
	return results
}

func (e *Executor) simulate(req models.ActionRequest, kind models.OperationKind,
	dest string, decision guardian.Decision) models.ActionResult {

	entry := oplog.Entry{
		Timestamp:   time.Now(),
		Operation:   oplogOp(kind),
		FilePath:    filepath.Base(req.SourcePath),
		OldLocation: req.SourcePath,
		NewLocation: dest,
		Status:      oplog.StatusSimulated,
	}
	if err := e.log.Append(entry); err != nil {
		e.logger.WithError(err).Warn("failed to record simulated operation")
	}

	return models.ActionResult{
		Success:   true,
		Action:    models.ActionSimulated,
		OldPath:   req.SourcePath,
		NewPath:   dest,
		Message:   fmt.Sprintf("would %s to %s", kind, dest),
		TimeSaved: e.timeSaved(kind),
		Simulated: true,
		Decision:  decisionPayload(decision),
	}
}

func (e *Executor) perform(ctx context.Context, req models.ActionRequest,
	kind models.OperationKind, dest string, decision guardian.Decision) models.ActionResult {

	unlock := e.lockPaths(req.SourcePath, dest)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return e.refuse(req, models.ActionBlocked, fmt.Sprintf("cannot create destination: %v", err))
	}

	// The conflict counter ran before the lock; re-check under it.
	if _, err := os.Stat(dest); err == nil {
		dest = resolveConflict(dest)
	}

	var opErr error
	switch kind {
	case models.OpCopy:
		opErr = copyFile(ctx, req.SourcePath, dest)
	default:
		opErr = moveFile(req.SourcePath, dest)
	}

	entry := oplog.Entry{
		Timestamp:   time.Now(),
		Operation:   oplogOp(kind),
		FilePath:    filepath.Base(req.SourcePath),
		OldLocation: req.SourcePath,
		NewLocation: dest,
		Status:      oplog.StatusSuccess,
	}
	if opErr != nil {
		entry.Status = oplog.StatusFailed
	}
	if err := e.log.Append(entry); err != nil {
		e.logger.WithError(err).Error("failed to record operation")
	}

	if opErr != nil {
		failure := &models.OperationError{
			Code:        models.ErrCodeIO,
			Op:          string(kind),
			Path:        req.SourcePath,
			Destination: dest,
			Err:         opErr,
		}
		return models.ActionResult{
			Action:  actionType(kind),
			OldPath: req.SourcePath,
			NewPath: dest,
			Message: failure.Error(),
		}
	}

	e.recordHistory(req, kind, dest)

	fields := map[string]interface{}{
		"operation": string(kind),
		"source":    req.SourcePath,
		"dest":      dest,
	}
	if id := events.GetOperationID(ctx); id != "" {
		fields["operation_id"] = id
	}
	e.logger.WithFields(fields).Info("operation completed")

	return models.ActionResult{
		Success:   true,
		Action:    actionType(kind),
		OldPath:   req.SourcePath,
		NewPath:   dest,
		Message:   fmt.Sprintf("%s completed: %s", kind, dest),
		TimeSaved: e.timeSaved(kind),
		Decision:  decisionPayload(decision),
	}
}

// recordHistory is best effort. The mutation already happened; a failed
// audit insert must not turn it into a failed result.
func (e *Executor) recordHistory(req models.ActionRequest, kind models.OperationKind, dest string) {
	if e.store == nil {
		return
	}
	err := e.store.LogAction(history.Action{
		Filename:     filepath.Base(req.SourcePath),
		OldPath:      req.SourcePath,
		NewPath:      dest,
		Operation:    string(kind),
		Category:     req.Category,
		TimeSaved:    e.timeSaved(kind),
		UserApproved: req.Approved,
	})
	if err != nil {
		e.logger.WithError(err).Warn("failed to record action history")
	}
}

func (e *Executor) refuse(req models.ActionRequest, action models.ActionType, msg string) models.ActionResult {
	e.logger.WithFields(map[string]interface{}{
		"source": req.SourcePath,
		"reason": msg,
	}).Info("request refused")
	return models.ActionResult{
		Action:  action,
		OldPath: req.SourcePath,
		Message: msg,
	}
}

// buildDestination resolves the final path for the operation. The empty
// message return means the path is usable.
func (e *Executor) buildDestination(req models.ActionRequest, kind models.OperationKind) (string, string) {
	name := filepath.Base(req.SourcePath)
	if req.RenameTo != "" {
		if msg := validateFilename(req.RenameTo); msg != "" {
			return "", msg
		}
		name = req.RenameTo
	}

	var dest string
	switch kind {
	case models.OpRename:
		dest = filepath.Join(filepath.Dir(req.SourcePath), name)
	default:
		rel := req.SuggestedPath
		if msg := validateRelative(rel); msg != "" {
			return "", msg
		}
		dest = filepath.Join(e.cfg.Organize.BaseDestination, filepath.FromSlash(rel), name)
		base, err := filepath.Abs(e.cfg.Organize.BaseDestination)
		if err != nil {
			return "", fmt.Sprintf("cannot resolve base destination: %v", err)
		}
		abs, err := filepath.Abs(dest)
		if err != nil {
			return "", fmt.Sprintf("cannot resolve destination: %v", err)
		}
		if !withinDir(base, abs) {
			return "", "destination escapes the organize root"
		}
		dest = abs
	}

	if len(dest) > maxPathLength {
		return "", "destination path too long"
	}
	if dest == req.SourcePath {
		return "", "destination equals source"
	}
	if _, err := os.Stat(dest); err == nil {
		dest = resolveConflict(dest)
	}
	return dest, ""
}

func (e *Executor) blacklisted(paths ...string) string {
	for _, blocked := range e.cfg.Organize.PathBlacklist {
		abs, err := filepath.Abs(blocked)
		if err != nil {
			continue
		}
		for _, p := range paths {
			pAbs, err := filepath.Abs(p)
			if err != nil {
				continue
			}
			if withinDir(abs, pAbs) {
				return blocked
			}
		}
	}
	return ""
}

func (e *Executor) timeSaved(kind models.OperationKind) float64 {
	if v, ok := e.cfg.Organize.TimeEstimates[string(kind)]; ok {
		return v
	}
	return defaultTimeSaved
}

// lockPaths serializes mutations touching the same source or destination.
// Two distinct sources resolving to one destination must share a lock, or
// the conflict re-check and the rename race each other. Locks are taken in
// sorted order so overlapping path sets cannot deadlock.
func (e *Executor) lockPaths(paths ...string) func() {
	keys := append([]string(nil), paths...)
	sort.Strings(keys)

	var locks []*sync.Mutex
	e.mu.Lock()
	for i, key := range keys {
		if key == "" || (i > 0 && key == keys[i-1]) {
			continue
		}
		lock, ok := e.inFlight[key]
		if !ok {
			lock = &sync.Mutex{}
			e.inFlight[key] = lock
		}
		locks = append(locks, lock)
	}
	e.mu.Unlock()

	for _, lock := range locks {
		lock.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// determineOperation maps the request to a mutation kind. An explicit
// Operation wins; otherwise a suggested path means move and a rename
// target means rename in place.
func determineOperation(req models.ActionRequest) (models.OperationKind, bool) {
	switch req.Operation {
	case models.OpMove, models.OpRename, models.OpCopy:
		return req.Operation, true
	}
	if req.SuggestedPath != "" {
		return models.OpMove, true
	}
	if req.RenameTo != "" {
		return models.OpRename, true
	}
	return "", false
}

func validatePath(path string) string {
	if path == "" {
		return "empty source path"
	}
	if len(path) > maxPathLength {
		return "source path too long"
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return "source path contains control characters"
		}
	}
	return ""
}

func validateRelative(rel string) string {
	if rel == "" {
		return "empty suggested path"
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, "\\") {
		return "suggested path must be relative"
	}
	for _, part := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "suggested path contains traversal"
		}
	}
	for _, r := range rel {
		if r < 0x20 || r == 0x7f {
			return "suggested path contains control characters"
		}
	}
	return ""
}

func validateFilename(name string) string {
	if name == "" {
		return "empty rename target"
	}
	if strings.ContainsAny(name, `/\`) {
		return "rename target contains path separators"
	}
	if name == "." || name == ".." {
		return "invalid rename target"
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "rename target contains control characters"
		}
	}
	return ""
}

// resolveConflict appends _1, _2, ... before the extension until the
// path is free.
func resolveConflict(dest string) string {
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func oplogOp(kind models.OperationKind) oplog.Operation {
	if kind == models.OpCopy {
		return oplog.OpCopy
	}
	// Renames are moves within a directory; recording them as MOVE keeps
	// them undoable.
	return oplog.OpMove
}

func actionType(kind models.OperationKind) models.ActionType {
	switch kind {
	case models.OpRename:
		return models.ActionRename
	case models.OpCopy:
		return models.ActionCopy
	default:
		return models.ActionMove
	}
}

func decisionPayload(decision guardian.Decision) interface{} {
	if len(decision.Warnings) == 0 && len(decision.Threats) == 0 {
		return nil
	}
	return decision
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device fallback.
	if err := copyFile(context.Background(), src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(dst)
			return err
		}
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				os.Remove(dst)
				return writeErr
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(dst)
			return readErr
		}
	}
	return out.Close()
}

// withinDir reports whether path sits at or below dir.
func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
