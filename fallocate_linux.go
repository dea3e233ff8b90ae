//go:build linux

package linesort

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes for a run file so a full disk is
// reported before any record is written.
// On Linux, uses the fallocate syscall with KEEP_SIZE so the file length
// still tracks what was actually written.
func fallocateFile(file *os.File, size int64) error {
	err := unix.Fallocate(int(file.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
	if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
		// tmpfs before 3.5, some FUSE and network filesystems
		return nil
	}
	return err
}
