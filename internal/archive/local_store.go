package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mvasile/fileward/internal/events"
)

// LocalStore archives into a directory tree on local disk. Writes are
// atomic: copy to a temp file, then rename into place.
type LocalStore struct {
	baseDir string
	logger  *events.Logger
}

func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive directory: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	return &LocalStore{
		baseDir: absPath,
		logger:  logger.WithField("component", "archive_local"),
	}, nil
}

// Put copies sourcePath into the archive under key.
func (s *LocalStore) Put(ctx context.Context, sourcePath, key string) (string, error) {
	target, err := s.resolveKey(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("create archive subdirectory: %w", err)
	}

	in, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tempPath := fmt.Sprintf("%s.tmp.%d", target, time.Now().UnixNano())
	out, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := copyWithContext(ctx, out, in); err != nil {
		out.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("copy to archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("finalize archive copy: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"source": sourcePath,
		"target": target,
	}).Debug("file archived")

	return target, nil
}

// resolveKey confines key inside the archive base directory.
func (s *LocalStore) resolveKey(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive key %q escapes the archive directory", key)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

// copyWithContext copies in chunks, checking for cancellation between
// chunks so an archive of a huge file cannot outlive its caller.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
