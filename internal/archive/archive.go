// Package archive keeps pre-deletion copies of files. A deletion with an
// archive backend configured is effectively a move into cold storage; with
// no backend it is a plain unlink.
package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mvasile/fileward/internal/config"
	"github.com/mvasile/fileward/internal/events"
)

// Store copies a local file into the archive under key and returns the
// archive location for the audit trail.
type Store interface {
	Put(ctx context.Context, sourcePath, key string) (string, error)
}

// New builds the configured backend. An empty backend returns (nil, nil):
// archiving disabled.
func New(cfg *config.ArchiveConfig, logger *events.Logger) (Store, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "local":
		return NewLocalStore(cfg.LocalDir, logger)
	case "s3":
		return NewS3Store(cfg.S3Bucket, cfg.S3Prefix, logger)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// DefaultKey builds a date-partitioned key for a source path, so archive
// listings group by deletion day.
func DefaultKey(sourcePath string, now time.Time) string {
	return filepath.ToSlash(filepath.Join(
		now.Format("2006/01/02"),
		filepath.Base(sourcePath),
	))
}
