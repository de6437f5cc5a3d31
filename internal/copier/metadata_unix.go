//go:build unix

package copier

import (
	"io/fs"
	"syscall"
	"time"
)

// accessTime extracts the source's atime from its stat data so Chtimes can
// carry it over. Falls back to the modification time when the platform data
// is unavailable.
func accessTime(info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime().UTC()
	}
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec).UTC()
}
