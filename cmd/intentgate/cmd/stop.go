package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const stopPollInterval = 200 * time.Millisecond

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running IntentGate server",
	Long: `Ask the server recorded in ~/.intentgate/server.pid to shut down.

The server drains in-flight requests, flushes the audit queue and writes
state.json before exiting. If it is still running after --timeout it is
killed.

Examples:
  intentgate stop
  intentgate stop --timeout 30s`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait for a graceful exit")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	out := cmd.ErrOrStderr()
	pidPath := pidFilePath()
	defer os.Remove(pidPath)

	proc, err := findServer(pidPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Stopping IntentGate server (PID %d)...\n", proc.Pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("signalling server: %w", err)
	}

	if waitForExit(proc, stopTimeout) {
		fmt.Fprintln(out, "Server stopped.")
		return nil
	}
	fmt.Fprintf(out, "Server still running after %s, killing it.\n", stopTimeout)
	return proc.Kill()
}

// findServer resolves the live process named by the PID file.
func findServer(pidPath string) (*os.Process, error) {
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return nil, fmt.Errorf("no server PID file found at %s; is the server running?", pidPath)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("invalid PID %d: %w", pid, err)
	}
	if !processIsAlive(proc) {
		return nil, fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}
	return proc, nil
}

// waitForExit polls proc until it exits or timeout elapses.
func waitForExit(proc *os.Process, timeout time.Duration) bool {
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		select {
		case <-ticker.C:
			if !processIsAlive(proc) {
				return true
			}
		case <-deadline:
			return !processIsAlive(proc)
		}
	}
}
