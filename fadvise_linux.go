//go:build linux

package linesort

import "golang.org/x/sys/unix"

// fadviseSequential hints to the kernel that a run file will be read
// sequentially. Applied before streaming a compressed run back.
// Best-effort: errors are silently ignored.
func fadviseSequential(fd int, offset, length int64) {
	_ = unix.Fadvise(fd, offset, length, unix.FADV_SEQUENTIAL)
}
