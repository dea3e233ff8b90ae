//go:build linux

package linesort

import (
	"os"

	"golang.org/x/sys/unix"
)

// openTmpFile creates an anonymous O_TMPFILE file in dir (Linux 3.11+).
// The file is deleted by the kernel when its descriptor is closed, including
// when the process dies. Returns an error if the filesystem lacks support.
func openTmpFile(dir string) (*os.File, error) {
	fd, err := unix.Open(dir, unix.O_RDWR|unix.O_TMPFILE|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), ""), nil
}
