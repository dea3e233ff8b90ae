//go:build darwin

package linesort

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes for a run file so a full disk is
// reported before any record is written.
// On macOS, uses fcntl F_PREALLOCATE, which reserves space without changing
// the file length.
func fallocateFile(file *os.File, size int64) error {
	// F_ALLOCATEALL - allocate all requested space or fail
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Offset:  0,
		Length:  size,
	}
	err := unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst)
	if err == unix.ENOTSUP {
		return nil
	}
	return err
}
