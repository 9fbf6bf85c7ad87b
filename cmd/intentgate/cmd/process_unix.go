//go:build !windows

package cmd

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func gracefulSignals() []os.Signal {
	return []os.Signal{unix.SIGINT, unix.SIGTERM}
}

// processIsAlive reports whether pid still exists. EPERM means it exists
// but belongs to another user.
func processIsAlive(proc *os.Process) bool {
	err := unix.Kill(proc.Pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// sendGracefulStop delivers SIGTERM, which the server treats like Ctrl+C.
func sendGracefulStop(proc *os.Process) error {
	return unix.Kill(proc.Pid, unix.SIGTERM)
}
