//go:build linux

package linesort

import "golang.org/x/sys/unix"

// adviseSequential enables aggressive readahead on a mapped run.
// Best-effort: errors are silently ignored.
func adviseSequential(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
}

// adviseDontNeed drops already-merged pages of a mapped run from the
// process's resident set. data must start on a page boundary.
func adviseDontNeed(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, unix.MADV_DONTNEED)
}
