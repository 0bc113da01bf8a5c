package duplicates

import (
	"io/fs"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// junkPatterns match temporary and junk files safe to surface for
// deletion. Matched against the base name only.
var junkPatterns = []string{
	"*.tmp", "*.temp", "*.cache",
	"*.crdownload", "*.part", "*.partial",
	"*.download", ".DS_Store", "Thumbs.db",
	"desktop.ini", "*.bak", "*~",
}

// DiskReport describes the volume holding a scan root, so cleanup runs
// can report reclaimable space against actual capacity.
type DiskReport struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskUsage reports usage for the volume containing path.
func DiskUsage(path string) (DiskReport, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskReport{}, err
	}
	return DiskReport{
		Path:        usage.Path,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedBytes:   usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// FindJunk lists temp/junk files under root. It only reports; deletion
// goes through the same gated path as duplicate cleanup.
func (e *Engine) FindJunk(root string) ([]string, error) {
	var junk []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		for _, pattern := range junkPatterns {
			if ok, _ := filepath.Match(pattern, name); ok {
				junk = append(junk, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return junk, nil
}
