//go:build !windows

package app

import (
	"io/fs"
	"syscall"
)

// diskBytes reports the blocks a piece file actually occupies. Partially
// downloaded torrents are sparse, so this is usually below info.Size().
func diskBytes(info fs.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Blocks > 0 {
		return int64(st.Blocks) * 512
	}
	return max(info.Size(), 0)
}
