//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// Windows delivers only os.Interrupt to console processes.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processIsAlive waits on the process handle with a zero timeout: a live
// process is not yet signaled.
func processIsAlive(proc *os.Process) bool {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	ev, err := windows.WaitForSingleObject(h, 0)
	return err == nil && ev == uint32(windows.WAIT_TIMEOUT)
}

// sendGracefulStop terminates proc. Without SIGTERM the stopped server
// cannot flush its audit queue.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
