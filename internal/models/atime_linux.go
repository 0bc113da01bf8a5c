//go:build linux

package models

import (
	"os"
	"syscall"
	"time"
)

// AccessTime extracts the access time from platform stat data.
func AccessTime(info os.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Atim.Sec, st.Atim.Nsec)
	}
	return info.ModTime()
}
