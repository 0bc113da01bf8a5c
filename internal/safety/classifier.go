package safety

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
)

// Reason identifies the protection layer that rejected a path. Layers are
// evaluated in a fixed priority order and short-circuit, so a verdict
// always names the first layer that matched.
type Reason string

const (
	ReasonSafe          Reason = "safe"
	ReasonProtectedPath Reason = "protected_path"
	ReasonProtectedType Reason = "protected_type"
	ReasonAppAncestor   Reason = "app_ancestor"
	ReasonAppSibling    Reason = "app_sibling"
)

// Verdict is the classifier's judgement of a single path.
type Verdict struct {
	Safe   bool   `json:"safe"`
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Classifier judges whether a path belongs to an installed application,
// game, or system component. Safe for concurrent use; Reload swaps the
// ruleset snapshot atomically so no classification ever observes a
// half-updated ruleset.
type Classifier struct {
	rules  atomic.Pointer[Ruleset]
	logger *events.Logger
}

// layerFunc is one protection layer: a pure predicate over (path, ruleset).
// It returns a rejection detail when the layer matches.
type layerFunc func(rs *Ruleset, path, normalized string) (rejected bool, detail string)

type layer struct {
	reason Reason
	check  layerFunc
}

// NewClassifier builds a classifier from the rules configuration.
func NewClassifier(cfg config.RulesConfig, logger *events.Logger) *Classifier {
	c := &Classifier{
		logger: logger.WithField("component", "safety_classifier"),
	}
	c.rules.Store(NewRuleset(cfg))
	return c
}

// Reload replaces the ruleset with a freshly built snapshot. In-flight
// classifications finish against the snapshot they started with.
func (c *Classifier) Reload(cfg config.RulesConfig) {
	c.rules.Store(NewRuleset(cfg))
	c.logger.Info("Protection ruleset reloaded")
}

// layers in priority order; the first rejection wins.
func (c *Classifier) layers() []layer {
	return []layer{
		{ReasonProtectedPath, checkProtectedPath},
		{ReasonProtectedType, checkProtectedType},
		{ReasonAppAncestor, checkAppAncestor},
		{ReasonAppSibling, checkAppSibling},
	}
}

// Classify evaluates every protection layer against path. A missing path
// is not an error; only permission failures escalate to a protected
// verdict inside the filesystem-probing layers.
func (c *Classifier) Classify(path string) Verdict {
	rs := c.rules.Load()
	normalized := normalizePath(path)

	for _, l := range c.layers() {
		if rejected, detail := l.check(rs, path, normalized); rejected {
			c.logger.WithFields(map[string]interface{}{
				"path":   path,
				"reason": string(l.reason),
				"detail": detail,
			}).Debug("Path rejected by protection layer")
			return Verdict{Safe: false, Reason: l.reason, Detail: detail}
		}
	}

	return Verdict{Safe: true, Reason: ReasonSafe, Detail: "safe to modify"}
}

// ValidateScanRoot applies the same contract to a directory root before a
// recursive scan is allowed to start.
func (c *Classifier) ValidateScanRoot(dir string) Verdict {
	rs := c.rules.Load()
	normalized := normalizePath(dir)

	if rejected, detail := checkProtectedPath(rs, dir, normalized); rejected {
		return Verdict{Safe: false, Reason: ReasonProtectedPath, Detail: detail}
	}

	if isApplicationDir(rs, dir) {
		name := detectPlatformName(normalized)
		return Verdict{
			Safe:   false,
			Reason: ReasonAppAncestor,
			Detail: fmt.Sprintf("directory contains an installed application (%s)", name),
		}
	}

	if frag, ok := rs.matchFragment(normalized); ok {
		return Verdict{
			Safe:   false,
			Reason: ReasonProtectedPath,
			Detail: fmt.Sprintf("appears to be an application folder (contains %q)", frag),
		}
	}

	return Verdict{Safe: true, Reason: ReasonSafe, Detail: "safe to scan"}
}

// Layer 1: protected-path match.
func checkProtectedPath(rs *Ruleset, _ string, normalized string) (bool, string) {
	if prefix, ok := rs.matchSystemPath(normalized); ok {
		return true, fmt.Sprintf("under system directory %s", prefix)
	}

	// Application-data caches are protected except the designated temp
	// subtree, which is fair game.
	if strings.Contains(normalized, "/appdata/") &&
		!strings.Contains(normalized, "/appdata/local/temp") {
		return true, "application data directory"
	}

	if frag, ok := rs.matchFragment(normalized); ok {
		return true, fmt.Sprintf("matches platform fragment %q", frag)
	}

	if p, ok := rs.matchCustomPath(normalized); ok {
		return true, fmt.Sprintf("under user-protected path %s", p)
	}

	return false, ""
}

// Layer 2: protected file type. The save-game set is contextual: it only
// rejects when an ancestor directory names a gaming platform.
func checkProtectedType(rs *Ruleset, path, normalized string) (bool, string) {
	ext := extOf(path)
	if ext == "" {
		return false, ""
	}

	if _, ok := rs.systemExtensions[ext]; ok {
		return true, fmt.Sprintf("system/executable file type (%s)", ext)
	}
	if _, ok := rs.gameExtensions[ext]; ok {
		return true, fmt.Sprintf("game engine asset (%s)", ext)
	}
	if _, ok := rs.saveExtensions[ext]; ok {
		parent := normalizePath(filepath.Dir(path))
		if frag, found := rs.matchGamingFragment(parent); found {
			return true, fmt.Sprintf("save game (%s under %q)", ext, frag)
		}
	}
	if _, ok := rs.customExtensions[ext]; ok {
		return true, fmt.Sprintf("user-protected file type (%s)", ext)
	}

	return false, ""
}

// Layer 3: bounded ancestor walk re-running the protected-path check and
// the application-folder heuristic at each level.
func checkAppAncestor(rs *Ruleset, path, _ string) (bool, string) {
	current := filepath.Dir(path)
	for level := 0; level < rs.maxAncestorDepth; level++ {
		parent := filepath.Dir(current)
		if parent == current {
			break // filesystem root
		}

		if rejected, detail := checkProtectedPath(rs, current, normalizePath(current)); rejected {
			return true, fmt.Sprintf("ancestor %s: %s", current, detail)
		}
		if isApplicationDir(rs, current) {
			return true, fmt.Sprintf("ancestor %s contains an installed application", current)
		}

		current = parent
	}
	return false, ""
}

// Layer 4: the immediate parent is scanned non-recursively for the
// coexistence of an executable and a shared library.
func checkAppSibling(rs *Ruleset, path, _ string) (bool, string) {
	parent := filepath.Dir(path)

	entries, err := os.ReadDir(parent)
	if err != nil {
		if isPermissionErr(err) {
			// Unreadable is unsafe, not unknown.
			return true, fmt.Sprintf("cannot read %s", parent)
		}
		return false, ""
	}

	hasExecutable := false
	hasLibrary := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch extOf(entry.Name()) {
		case ".exe":
			hasExecutable = true
		case ".dll", ".so", ".dylib":
			hasLibrary = true
		}
		if hasExecutable && hasLibrary {
			return true, fmt.Sprintf("application siblings in %s (executable and library)", parent)
		}
	}

	return false, ""
}

// isApplicationDir judges whether a directory contains an installed
// application: executable+library coexistence, an engine indicator
// subdirectory, more packed assets than the threshold, or an
// uninstaller-named executable. An unreadable directory is protected.
func isApplicationDir(rs *Ruleset, dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return isPermissionErr(err)
	}

	hasExecutable := false
	hasLibrary := false
	assetCount := 0

	for _, entry := range entries {
		name := strings.ToLower(entry.Name())

		if entry.IsDir() {
			if rs.isEngineIndicatorDir(name) {
				return true
			}
			continue
		}

		switch ext := extOf(name); ext {
		case ".exe":
			hasExecutable = true
			if strings.Contains(name, "unins") || strings.Contains(name, "uninstall") {
				return true
			}
		case ".dll", ".so", ".dylib":
			hasLibrary = true
		case ".pak", ".assets":
			assetCount++
		}

		if hasExecutable && hasLibrary {
			return true
		}
		if assetCount > rs.assetCountThreshold {
			return true
		}
	}

	return false
}

// detectPlatformName maps a path to a human-readable platform label for
// scan-root rejection messages.
func detectPlatformName(normalized string) string {
	switch {
	case strings.Contains(normalized, "steam"):
		return "Steam"
	case strings.Contains(normalized, "epic"):
		return "Epic Games"
	case strings.Contains(normalized, "gog"):
		return "GOG Galaxy"
	case strings.Contains(normalized, "ubisoft"), strings.Contains(normalized, "uplay"):
		return "Ubisoft Connect"
	case strings.Contains(normalized, "battle.net"), strings.Contains(normalized, "blizzard"):
		return "Battle.net"
	case strings.Contains(normalized, "riot"):
		return "Riot Games"
	case strings.Contains(normalized, "xbox"):
		return "Xbox"
	case strings.Contains(normalized, "visual studio"):
		return "Visual Studio"
	case strings.Contains(normalized, "jetbrains"):
		return "JetBrains IDE"
	default:
		return "unknown application"
	}
}

func isPermissionErr(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, os.ErrPermission)
}
