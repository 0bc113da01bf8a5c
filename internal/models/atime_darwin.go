//go:build darwin

package models

import (
	"os"
	"syscall"
	"time"
)

// AccessTime extracts the access time from platform stat data.
func AccessTime(info os.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec)
	}
	return info.ModTime()
}
