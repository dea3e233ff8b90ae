//go:build !linux && !darwin

package linesort

import "os"

// fallocateFile is a no-op on platforms without native space reservation;
// disk-full surfaces on the first failing write instead.
func fallocateFile(file *os.File, size int64) error {
	return nil
}
