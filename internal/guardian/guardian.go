// Package guardian implements the final evaluation layer consulted before
// any file mutation. It is independent of the path classifier: the
// classifier judges a single path, the guardian scores the whole operation
// (source, destination, operation kind, classification context).
package guardian

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
	"github.com/mvasile/fileward/internal/models"
)

// RiskLevel grades an operation. Critical is never approved.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskCaution  RiskLevel = "caution"
	RiskHigh     RiskLevel = "high_risk"
	RiskCritical RiskLevel = "critical"
)

// ThreatType names the category of a detected threat.
type ThreatType string

const (
	ThreatPathTraversal        ThreatType = "path_traversal"
	ThreatSystemFile           ThreatType = "system_file"
	ThreatApplicationFile      ThreatType = "application_file"
	ThreatDataLoss             ThreatType = "data_loss"
	ThreatPermission           ThreatType = "permission_issue"
	ThreatInvalidDestination   ThreatType = "invalid_destination"
	ThreatCircularReference    ThreatType = "circular_reference"
	ThreatDestructiveOperation ThreatType = "destructive_operation"
)

// Severity of an individual threat, distinct from the overall risk level.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Threat is one finding from an evaluation layer.
type Threat struct {
	Type     ThreatType `json:"type"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
}

// Operation describes a proposed mutation for evaluation.
type Operation struct {
	SourcePath      string
	DestinationPath string
	Kind            models.OperationKind
	Category        string
	Confidence      string
	UserApproved    bool
}

// Decision is the guardian's verdict. A false Approved must stop the
// executor; warnings on an approved decision are informational.
type Decision struct {
	Approved             bool      `json:"approved"`
	RiskLevel            RiskLevel `json:"risk_level"`
	Threats              []Threat  `json:"threats,omitempty"`
	Warnings             []string  `json:"warnings,omitempty"`
	Reasoning            string    `json:"reasoning"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
	RecommendedAction    string    `json:"recommended_action"`
}

// Guardian is the pluggable risk-scoring collaborator.
type Guardian interface {
	EvaluateOperation(ctx context.Context, op Operation) Decision
}

// Critical locations the guardian refuses to touch regardless of what the
// path classifier said. Kept separate from the classifier's ruleset so a
// misconfigured ruleset cannot disarm the last line of defense.
var criticalPathPrefixes = []string{
	`c:/windows`,
	`c:/program files`,
	`c:/program files (x86)`,
	`c:/programdata/microsoft`,
	`c:/users/default`,
	`c:/users/public`,
	`c:/system volume information`,
	`c:/$recycle.bin`,
	`c:/recovery`,
	`c:/boot`,
	"/bin", "/sbin", "/usr/bin", "/usr/sbin",
	"/lib", "/lib64", "/usr/lib", "/usr/lib64",
	"/etc", "/boot", "/sys", "/proc", "/dev", "/root",
	"/var/log", "/var/lib/dpkg", "/var/lib/rpm",
}

var criticalExtensions = map[string]struct{}{
	".sys": {}, ".dll": {}, ".exe": {}, ".drv": {}, ".ocx": {},
	".so": {}, ".dylib": {}, ".a": {},
	".ini": {}, ".cfg": {}, ".conf": {},
}

var appDirIndicators = []string{
	"program files", "programdata",
	".app/contents", "/applications/", "/opt/",
	"appdata/local/programs", "appdata/roaming",
}

// Files whose extension landing in these destination folders suggests the
// classification went sideways.
var suspiciousPlacements = []struct {
	extensions   []string
	destinations []string
}{
	{[]string{".pdf", ".doc", ".docx", ".txt"}, []string{"pictures", "images", "photos"}},
	{[]string{".jpg", ".png", ".gif", ".bmp"}, []string{"documents", "text"}},
	{[]string{".exe", ".msi"}, []string{"documents", "pictures"}},
	{[]string{".mp4", ".avi", ".mkv"}, []string{"documents", "pictures"}},
}

const (
	largeDeleteThreshold = 100 << 20 // bytes
	maxDestinationLen    = 250

	ActionBlock           = "block"
	ActionRequireApproval = "require_approval"
	ActionConfirm         = "confirm"
	ActionProceed         = "proceed"
)

// RuleGuardian is the shipped Guardian: deterministic layered checks over
// the operation context, plus an audit trail of everything it blocked.
type RuleGuardian struct {
	cfg    *config.Config
	logger *events.Logger

	mu      sync.Mutex
	blocked []BlockedOperation
}

// BlockedOperation is one audit record of a refused mutation.
type BlockedOperation struct {
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Kind        string    `json:"kind"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Threats     []Threat  `json:"threats"`
}

func NewRuleGuardian(cfg *config.Config, logger *events.Logger) *RuleGuardian {
	return &RuleGuardian{
		cfg:    cfg,
		logger: logger.WithField("component", "guardian"),
	}
}

// EvaluateOperation runs every layer, grades the combined findings and
// decides approval. The layers never return errors: a check that cannot
// complete reports a threat instead of failing open.
func (g *RuleGuardian) EvaluateOperation(ctx context.Context, op Operation) Decision {
	_ = ctx

	var threats []Threat
	var warnings []string

	threats = append(threats, g.checkPathSecurity(op)...)
	threats = append(threats, g.checkSystemFiles(op)...)
	threats = append(threats, g.checkApplicationIntegrity(op)...)
	threats = append(threats, g.checkDataLoss(op)...)
	warnings = append(warnings, g.checkClassificationLogic(op)...)
	threats = append(threats, g.checkPermissions(op)...)

	risk := riskFromFindings(threats, warnings)

	decision := Decision{
		Approved:             g.approve(risk, op.UserApproved, threats),
		RiskLevel:            risk,
		Threats:              threats,
		Warnings:             warnings,
		Reasoning:            buildReasoning(risk, threats, warnings),
		RequiresConfirmation: risk == RiskCaution || risk == RiskHigh,
		RecommendedAction:    recommendedAction(risk, op.UserApproved),
	}

	if !decision.Approved {
		g.recordBlocked(op, decision)
	}

	g.logger.WithFields(map[string]interface{}{
		"operation":   string(op.Kind),
		"source":      op.SourcePath,
		"destination": op.DestinationPath,
		"risk_level":  string(risk),
		"approved":    decision.Approved,
	}).Debug("operation evaluated")

	return decision
}

// Blocked returns a copy of the audit trail of refused operations.
func (g *RuleGuardian) Blocked() []BlockedOperation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]BlockedOperation, len(g.blocked))
	copy(out, g.blocked)
	return out
}

// Stats summarizes blocked operations by threat type and risk level.
func (g *RuleGuardian) Stats() (byThreat map[ThreatType]int, byRisk map[RiskLevel]int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	byThreat = make(map[ThreatType]int)
	byRisk = make(map[RiskLevel]int)
	for _, entry := range g.blocked {
		byRisk[entry.RiskLevel]++
		for _, t := range entry.Threats {
			byThreat[t.Type]++
		}
	}
	return byThreat, byRisk
}

func (g *RuleGuardian) recordBlocked(op Operation, d Decision) {
	g.mu.Lock()
	g.blocked = append(g.blocked, BlockedOperation{
		Source:      op.SourcePath,
		Destination: op.DestinationPath,
		Kind:        string(op.Kind),
		RiskLevel:   d.RiskLevel,
		Threats:     d.Threats,
	})
	g.mu.Unlock()

	g.logger.WithFields(map[string]interface{}{
		"operation":   string(op.Kind),
		"source":      op.SourcePath,
		"destination": op.DestinationPath,
		"risk_level":  string(d.RiskLevel),
		"threats":     len(d.Threats),
	}).Warn("operation blocked")
}

// Layer 1: destination path security.
func (g *RuleGuardian) checkPathSecurity(op Operation) []Threat {
	var threats []Threat
	dest := op.DestinationPath
	if dest == "" {
		return nil
	}

	if strings.Contains(dest, "..") {
		threats = append(threats, Threat{
			Type:     ThreatPathTraversal,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("destination contains a traversal sequence: %s", dest),
		})
	}

	for _, c := range []string{"\x00", "\n", "\r", "\t"} {
		if strings.Contains(dest, c) {
			threats = append(threats, Threat{
				Type:     ThreatPathTraversal,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("destination contains control character %q", c),
			})
		}
	}

	// Renames stay in the source directory, so containment in the
	// organize root does not apply to them.
	if op.Kind != models.OpRename && filepath.IsAbs(dest) && g.cfg.Organize.BaseDestination != "" {
		base, err := filepath.Abs(g.cfg.Organize.BaseDestination)
		if err != nil {
			threats = append(threats, Threat{
				Type:     ThreatInvalidDestination,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("cannot resolve base destination: %v", err),
			})
			return threats
		}
		if !withinDir(dest, base) {
			threats = append(threats, Threat{
				Type:     ThreatPathTraversal,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("destination escapes base directory: %s is outside %s", dest, base),
			})
		}
	}

	return threats
}

// Layer 2: critical system locations and extensions.
func (g *RuleGuardian) checkSystemFiles(op Operation) []Threat {
	var threats []Threat
	normalized := normalize(op.SourcePath)

	for _, prefix := range criticalPathPrefixes {
		if hasPrefix(normalized, prefix) {
			threats = append(threats, Threat{
				Type:     ThreatSystemFile,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("source is inside system directory %s", prefix),
			})
			break
		}
	}

	ext := strings.ToLower(filepath.Ext(op.SourcePath))
	if _, critical := criticalExtensions[ext]; critical {
		parent := normalize(filepath.Dir(op.SourcePath))
		for _, marker := range []string{"windows", "system32", "program files", "/bin", "/lib", "/sbin"} {
			if strings.Contains(parent, marker) {
				threats = append(threats, Threat{
					Type:     ThreatSystemFile,
					Severity: SeverityCritical,
					Message:  fmt.Sprintf("%s file inside a system directory, moving it will break software", ext),
				})
				break
			}
		}
	}

	return threats
}

// Layer 3: application installation integrity.
func (g *RuleGuardian) checkApplicationIntegrity(op Operation) []Threat {
	normalized := normalize(op.SourcePath)
	ext := strings.ToLower(filepath.Ext(op.SourcePath))

	for _, indicator := range appDirIndicators {
		if !strings.Contains(normalized, indicator) {
			continue
		}
		switch ext {
		case ".exe", ".dll", ".so", ".dylib", ".app":
			return []Threat{{
				Type:     ThreatApplicationFile,
				Severity: SeverityCritical,
				Message:  "executable or library inside an application directory, moving it will break the application",
			}}
		case ".ini", ".cfg", ".conf", ".plist":
			return []Threat{{
				Type:     ThreatApplicationFile,
				Severity: SeverityHigh,
				Message:  "configuration file inside an application directory, moving it may break application settings",
			}}
		}
	}
	return nil
}

// Layer 4: overwrite and destructive-operation checks.
func (g *RuleGuardian) checkDataLoss(op Operation) []Threat {
	var threats []Threat

	if op.DestinationPath != "" {
		if destInfo, err := os.Stat(op.DestinationPath); err == nil && destInfo.Mode().IsRegular() {
			if srcInfo, err := os.Stat(op.SourcePath); err == nil {
				if destInfo.Size() > srcInfo.Size()*2 {
					threats = append(threats, Threat{
						Type:     ThreatDataLoss,
						Severity: SeverityHigh,
						Message: fmt.Sprintf("destination file is significantly larger (%d vs %d bytes), overwriting may lose data",
							destInfo.Size(), srcInfo.Size()),
					})
				}
			}
		}
	}

	if op.Kind == models.OpDelete {
		if info, err := os.Stat(op.SourcePath); err == nil && info.Mode().IsRegular() {
			if info.Size() > largeDeleteThreshold {
				threats = append(threats, Threat{
					Type:     ThreatDestructiveOperation,
					Severity: SeverityHigh,
					Message:  fmt.Sprintf("deleting large file (%.1f MB), this cannot be undone", float64(info.Size())/(1<<20)),
				})
			}
		}
	}

	if op.DestinationPath != "" && samePath(op.SourcePath, op.DestinationPath) {
		threats = append(threats, Threat{
			Type:     ThreatCircularReference,
			Severity: SeverityMedium,
			Message:  "file is already at the destination location",
		})
	}

	return threats
}

// Layer 5: sanity of the classification against the proposed destination.
// These are warnings, not threats.
func (g *RuleGuardian) checkClassificationLogic(op Operation) []string {
	var warnings []string

	if strings.EqualFold(op.Confidence, "low") {
		warnings = append(warnings, "classification confidence is low, the suggested destination may be wrong")
	}

	if op.DestinationPath != "" {
		ext := strings.ToLower(filepath.Ext(op.SourcePath))
		dest := normalize(op.DestinationPath)
		for _, combo := range suspiciousPlacements {
			if !contains(combo.extensions, ext) {
				continue
			}
			for _, category := range combo.destinations {
				if strings.Contains(dest, category) {
					warnings = append(warnings,
						fmt.Sprintf("%s file routed to a %s folder, verify the classification", ext, category))
				}
			}
		}

		if len(op.DestinationPath) > maxDestinationLen {
			warnings = append(warnings,
				fmt.Sprintf("destination path is %d characters long, this may fail on some filesystems", len(op.DestinationPath)))
		}
	}

	return warnings
}

// Layer 6: access rights on source and destination directory.
func (g *RuleGuardian) checkPermissions(op Operation) []Threat {
	var threats []Threat

	if f, err := os.Open(op.SourcePath); err != nil {
		if isPermission(err) {
			threats = append(threats, Threat{
				Type:     ThreatPermission,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("no read permission for source: %s", op.SourcePath),
			})
		}
	} else {
		f.Close()
	}

	if op.DestinationPath != "" {
		destDir := filepath.Dir(op.DestinationPath)
		if _, err := os.Stat(destDir); err != nil && isPermission(err) {
			threats = append(threats, Threat{
				Type:     ThreatPermission,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("no access to destination directory: %s", destDir),
			})
		}
	}

	return threats
}

// riskFromFindings grades the combined findings. A single critical threat
// dominates everything else.
func riskFromFindings(threats []Threat, warnings []string) RiskLevel {
	if len(threats) == 0 && len(warnings) == 0 {
		return RiskSafe
	}

	highCount := 0
	for _, t := range threats {
		switch t.Severity {
		case SeverityCritical:
			return RiskCritical
		case SeverityHigh:
			highCount++
		}
	}

	switch {
	case highCount >= 2:
		return RiskHigh
	case highCount == 1:
		return RiskCaution
	case len(threats) > 0 || len(warnings) >= 3:
		return RiskCaution
	}
	return RiskSafe
}

func (g *RuleGuardian) approve(risk RiskLevel, userApproved bool, threats []Threat) bool {
	switch risk {
	case RiskCritical:
		return false
	case RiskHigh:
		return userApproved
	case RiskCaution:
		for _, t := range threats {
			if t.Severity == SeverityCritical {
				return false
			}
		}
		return userApproved
	}
	return true
}

func buildReasoning(risk RiskLevel, threats []Threat, warnings []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "risk level: %s", risk)

	if len(threats) > 0 {
		fmt.Fprintf(&b, "; threats (%d):", len(threats))
		for i, t := range threats {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, " [%s] %s;", t.Severity, t.Message)
		}
	}
	if len(warnings) > 0 {
		fmt.Fprintf(&b, "; warnings (%d):", len(warnings))
		for i, w := range warnings {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, " %s;", w)
		}
	}

	switch risk {
	case RiskCritical:
		b.WriteString(" operation blocked")
	case RiskHigh:
		b.WriteString(" explicit approval required")
	case RiskCaution:
		b.WriteString(" review recommended before proceeding")
	default:
		b.WriteString("; operation appears safe")
	}
	return b.String()
}

func recommendedAction(risk RiskLevel, userApproved bool) string {
	switch risk {
	case RiskCritical:
		return ActionBlock
	case RiskHigh:
		if userApproved {
			return ActionProceed
		}
		return ActionRequireApproval
	case RiskCaution:
		return ActionConfirm
	}
	return ActionProceed
}

func normalize(path string) string {
	return strings.ToLower(strings.ReplaceAll(path, `\`, `/`))
}

func hasPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func isPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

func samePath(a, b string) bool {
	ra, errA := filepath.Abs(filepath.Clean(a))
	rb, errB := filepath.Abs(filepath.Clean(b))
	if errA != nil || errB != nil {
		return false
	}
	return ra == rb
}
