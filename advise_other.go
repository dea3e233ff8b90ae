//go:build !linux

package linesort

// adviseSequential is a no-op on non-Linux platforms.
func adviseSequential(data []byte) {}

// adviseDontNeed is a no-op on non-Linux platforms.
func adviseDontNeed(data []byte) {}
