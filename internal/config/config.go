package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Protection ruleset inputs
	Rules RulesConfig `json:"rules" mapstructure:"rules"`

	// Organize pipeline behavior
	Organize OrganizeConfig `json:"organize" mapstructure:"organize"`

	// Duplicate engine behavior
	Duplicates DuplicatesConfig `json:"duplicates" mapstructure:"duplicates"`

	// External content classifier service
	Classifier ClassifierConfig `json:"classifier" mapstructure:"classifier"`

	// Pre-deletion archive store
	Archive ArchiveConfig `json:"archive" mapstructure:"archive"`

	// Action history store
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Operation log (undo source of truth)
	Oplog OplogConfig `json:"oplog" mapstructure:"oplog"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// RulesConfig supplies user-declared protection rules on top of the
// built-in ruleset.
type RulesConfig struct {
	ProtectedPaths      []string `json:"protected_paths" mapstructure:"protected_paths"`
	ProtectedExtensions []string `json:"protected_extensions" mapstructure:"protected_extensions"`
	MaxAncestorDepth    int      `json:"max_ancestor_depth" mapstructure:"max_ancestor_depth"`
	AssetCountThreshold int      `json:"asset_count_threshold" mapstructure:"asset_count_threshold"`
}

// FolderPolicy restricts which operation kinds a destination category allows.
type FolderPolicy struct {
	AllowMove   bool `json:"allow_move" mapstructure:"allow_move"`
	AllowCopy   bool `json:"allow_copy" mapstructure:"allow_copy"`
	AllowRename bool `json:"allow_rename" mapstructure:"allow_rename"`
}

// OrganizeConfig controls the action executor.
type OrganizeConfig struct {
	BaseDestination string                  `json:"base_destination" mapstructure:"base_destination"`
	PathBlacklist   []string                `json:"path_blacklist" mapstructure:"path_blacklist"`
	FolderPolicies  map[string]FolderPolicy `json:"folder_policies" mapstructure:"folder_policies"`
	DryRun          bool                    `json:"dry_run" mapstructure:"dry_run"`
	MaxFileSize     int64                   `json:"max_file_size" mapstructure:"max_file_size"`

	// Confirmation thresholds for non-simulated batches
	ConfirmAboveFiles int   `json:"confirm_above_files" mapstructure:"confirm_above_files"`
	ConfirmAboveBytes int64 `json:"confirm_above_bytes" mapstructure:"confirm_above_bytes"`

	// Minutes of manual effort saved per operation kind, for reporting
	TimeEstimates map[string]float64 `json:"time_estimates" mapstructure:"time_estimates"`
}

// DuplicatesConfig controls the duplicate engine.
type DuplicatesConfig struct {
	MinFileSize         int64    `json:"min_file_size" mapstructure:"min_file_size"`
	HashAlgorithm       string   `json:"hash_algorithm" mapstructure:"hash_algorithm"`
	Workers             int      `json:"workers" mapstructure:"workers"`
	DeletionWhitelist   []string `json:"deletion_whitelist" mapstructure:"deletion_whitelist"`
	ArchiveBeforeDelete bool     `json:"archive_before_delete" mapstructure:"archive_before_delete"`
}

// ClassifierConfig for the external content classifier service.
type ClassifierConfig struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	Model      string        `json:"model" mapstructure:"model"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`
}

// ArchiveConfig selects the pre-deletion archive backend.
type ArchiveConfig struct {
	Backend  string `json:"backend" mapstructure:"backend"` // "", "local", "s3"
	LocalDir string `json:"local_dir" mapstructure:"local_dir"`
	S3Bucket string `json:"s3_bucket" mapstructure:"s3_bucket"`
	S3Prefix string `json:"s3_prefix" mapstructure:"s3_prefix"`
}

// HistoryConfig for the sqlite audit store.
type HistoryConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// OplogConfig for the append-only operation log.
type OplogConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // empty = stderr
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	home, _ := os.UserHomeDir()

	return &Config{
		Rules: RulesConfig{
			MaxAncestorDepth:    5,
			AssetCountThreshold: 10,
		},
		Organize: OrganizeConfig{
			BaseDestination: filepath.Join(home, "Organized"),
			MaxFileSize:     100 * 1024 * 1024,
			DryRun:          true,
			FolderPolicies:  map[string]FolderPolicy{},
			ConfirmAboveFiles: 25,
			ConfirmAboveBytes: 500 * 1024 * 1024,
			TimeEstimates: map[string]float64{
				"move":   0.3,
				"rename": 0.2,
				"copy":   0.3,
				"delete": 0.2,
			},
		},
		Duplicates: DuplicatesConfig{
			MinFileSize:   1024,
			HashAlgorithm: "xxhash",
			Workers:       4,
			DeletionWhitelist: []string{
				filepath.Join(home, "Downloads"),
				filepath.Join(home, "Desktop"),
				os.TempDir(),
			},
		},
		Classifier: ClassifierConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "qwen2.5:14b",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
			UserAgent:  "fileward/1.0",
		},
		History: HistoryConfig{
			Path: filepath.Join(dataDir, "history.db"),
		},
		Oplog: OplogConfig{
			Path: filepath.Join(dataDir, "operations.log"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Organize.BaseDestination == "" {
		return errors.New("organize.base_destination is required")
	}

	if c.Duplicates.MinFileSize < 0 {
		return fmt.Errorf("duplicates.min_file_size must be >= 0, got %d", c.Duplicates.MinFileSize)
	}

	switch c.Duplicates.HashAlgorithm {
	case "xxhash", "sha1", "sha256":
	default:
		return fmt.Errorf("duplicates.hash_algorithm %q not supported", c.Duplicates.HashAlgorithm)
	}

	if c.Duplicates.Workers < 1 {
		return fmt.Errorf("duplicates.workers must be >= 1, got %d", c.Duplicates.Workers)
	}

	switch c.Archive.Backend {
	case "", "local", "s3":
	default:
		return fmt.Errorf("archive.backend %q not supported", c.Archive.Backend)
	}
	if c.Archive.Backend == "local" && c.Archive.LocalDir == "" {
		return errors.New("archive.local_dir is required for the local backend")
	}
	if c.Archive.Backend == "s3" && c.Archive.S3Bucket == "" {
		return errors.New("archive.s3_bucket is required for the s3 backend")
	}

	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier.timeout must be positive, got %s", c.Classifier.Timeout)
	}

	if c.Oplog.Path == "" {
		return errors.New("oplog.path is required")
	}

	return nil
}

// Allows reports whether the policy permits the named operation kind.
// Unknown kinds are refused.
func (p *FolderPolicy) Allows(kind string) bool {
	switch kind {
	case "move":
		return p.AllowMove
	case "copy":
		return p.AllowCopy
	case "rename":
		return p.AllowRename
	}
	return false
}

// Policy returns the folder policy for a destination category, or nil when
// no policy is configured.
func (c *OrganizeConfig) Policy(category string) *FolderPolicy {
	if p, ok := c.FolderPolicies[category]; ok {
		return &p
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fileward"
	}
	return filepath.Join(home, ".fileward")
}
