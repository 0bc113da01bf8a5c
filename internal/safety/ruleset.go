package safety

import (
	"path/filepath"
	"strings"

	"github.com/mvasile/fileward/internal/config"
)

// Ruleset is an immutable snapshot of every protection rule the classifier
// evaluates. Reload builds a fresh snapshot and swaps it atomically; a
// snapshot is never mutated after construction.
type Ruleset struct {
	// Case-insensitive path prefixes of OS system and program directories.
	systemPathPrefixes []string

	// Name fragments matched as substrings anywhere in a path.
	gamingFragments []string
	devFragments    []string

	// Extension sets, lower-case with leading dot.
	systemExtensions map[string]struct{}
	gameExtensions   map[string]struct{}
	saveExtensions   map[string]struct{}

	// User-declared rules from configuration.
	customPaths      []string
	customExtensions map[string]struct{}

	// Application-folder heuristic inputs.
	engineIndicatorDirs map[string]struct{}
	assetCountThreshold int
	maxAncestorDepth    int
}

var defaultSystemPathPrefixes = []string{
	`c:/windows`,
	`c:/program files`,
	`c:/program files (x86)`,
	`c:/programdata`,
	`c:/$recycle.bin`,
	`c:/recovery`,
	`c:/boot`,
	`/bin`,
	`/sbin`,
	`/usr/bin`,
	`/usr/sbin`,
	`/usr/lib`,
	`/usr/lib64`,
	`/lib`,
	`/lib64`,
	`/etc`,
	`/boot`,
	`/sys`,
	`/proc`,
	`/dev`,
	`/root`,
	`/var/log`,
	`/var/lib`,
	`/opt`,
}

// Gaming platform fragments match on any drive.
var defaultGamingFragments = []string{
	"steam", "steamapps", "steamlibrary",
	"epic games", "epicgames",
	"origin games", "origin",
	"gog galaxy", "gog games", "gog",
	"ubisoft", "uplay",
	"battle.net", "blizzard",
	"riot games",
	"xboxgames", "xbox",
}

var defaultDevFragments = []string{
	"visual studio",
	"jetbrains", "pycharm", "intellij",
	"node_modules", "nodejs",
}

var defaultSystemExtensions = []string{
	".exe", ".dll", ".sys", ".ocx", ".drv", ".msi",
	".bat", ".cmd", ".ps1",
	".so", ".dylib",
}

var defaultGameExtensions = []string{
	".pak",             // Unreal Engine
	".uasset", ".umap", // Unreal Engine
	".assets", ".bundle", // Unity
	".wad", ".pk3", ".bsp", // id Tech
	".vpk",         // Source Engine
	".esm", ".esp", // Bethesda
	".forge", ".jar", // Minecraft
}

var defaultSaveExtensions = []string{
	".sav", ".save", ".dat", ".profile", ".slot",
}

var defaultEngineIndicatorDirs = []string{
	"unrealengine", "ue4", "ue5", "unity", "engine",
}

// NewRuleset builds a snapshot from built-in rules plus user configuration.
func NewRuleset(cfg config.RulesConfig) *Ruleset {
	rs := &Ruleset{
		systemPathPrefixes:  defaultSystemPathPrefixes,
		gamingFragments:     defaultGamingFragments,
		devFragments:        defaultDevFragments,
		systemExtensions:    toSet(defaultSystemExtensions),
		gameExtensions:      toSet(defaultGameExtensions),
		saveExtensions:      toSet(defaultSaveExtensions),
		engineIndicatorDirs: toSet(defaultEngineIndicatorDirs),
		customExtensions:    make(map[string]struct{}),
		assetCountThreshold: cfg.AssetCountThreshold,
		maxAncestorDepth:    cfg.MaxAncestorDepth,
	}

	if rs.assetCountThreshold <= 0 {
		rs.assetCountThreshold = 10
	}
	if rs.maxAncestorDepth <= 0 {
		rs.maxAncestorDepth = 5
	}

	for _, p := range cfg.ProtectedPaths {
		rs.customPaths = append(rs.customPaths, normalizePath(p))
	}
	for _, ext := range cfg.ProtectedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		rs.customExtensions[ext] = struct{}{}
	}

	return rs
}

// normalizePath lowers the case and forces forward slashes so rules match
// identically on every platform and drive.
func normalizePath(path string) string {
	return strings.ToLower(strings.ReplaceAll(path, `\`, `/`))
}

// hasPathPrefix reports whether normalized path sits at or below prefix.
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// matchSystemPath returns the matching system prefix, if any.
func (rs *Ruleset) matchSystemPath(normalized string) (string, bool) {
	for _, prefix := range rs.systemPathPrefixes {
		if hasPathPrefix(normalized, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// matchFragment returns the first gaming or development fragment contained
// in the normalized path.
func (rs *Ruleset) matchFragment(normalized string) (string, bool) {
	for _, frag := range rs.gamingFragments {
		if strings.Contains(normalized, frag) {
			return frag, true
		}
	}
	for _, frag := range rs.devFragments {
		if strings.Contains(normalized, frag) {
			return frag, true
		}
	}
	return "", false
}

// matchGamingFragment restricts the search to gaming platforms only; used
// by the contextual save-game rule.
func (rs *Ruleset) matchGamingFragment(normalized string) (string, bool) {
	for _, frag := range rs.gamingFragments {
		if strings.Contains(normalized, frag) {
			return frag, true
		}
	}
	return "", false
}

// matchCustomPath returns the user-declared protected path containing the
// normalized path, if any.
func (rs *Ruleset) matchCustomPath(normalized string) (string, bool) {
	for _, p := range rs.customPaths {
		if p != "" && hasPathPrefix(normalized, p) {
			return p, true
		}
	}
	return "", false
}

func (rs *Ruleset) isEngineIndicatorDir(name string) bool {
	_, ok := rs.engineIndicatorDirs[strings.ToLower(name)]
	return ok
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
