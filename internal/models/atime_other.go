//go:build !linux && !darwin && !windows

package models

import (
	"os"
	"time"
)

// AccessTime falls back to the modification time on platforms whose stat
// data is not mapped here.
func AccessTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
