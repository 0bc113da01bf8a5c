//go:build windows

package models

import (
	"os"
	"syscall"
	"time"
)

// AccessTime extracts the access time from platform stat data.
func AccessTime(info os.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		return time.Unix(0, st.LastAccessTime.Nanoseconds())
	}
	return info.ModTime()
}
