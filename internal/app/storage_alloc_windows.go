//go:build windows

package app

import "io/fs"

// diskBytes falls back to the apparent size; sparse allocation is not
// reported through fs.FileInfo on windows.
func diskBytes(info fs.FileInfo) int64 {
	return max(info.Size(), 0)
}
