//go:build !linux

package linesort

import (
	"errors"
	"os"
)

// openTmpFile is unsupported off Linux; callers fall back to named files.
func openTmpFile(dir string) (*os.File, error) {
	return nil, errors.ErrUnsupported
}
