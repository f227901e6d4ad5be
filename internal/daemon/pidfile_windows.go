//go:build windows

package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// Alive returns the recorded PID and whether that process still exists.
func (r *Record) Alive() (int, bool) {
	pid, err := r.PID()
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	// FindProcess always succeeds on Windows; a zero signal checks liveness.
	return pid, proc.Signal(syscall.Signal(0)) == nil
}

// Signal delivers sig to the recorded server process. Windows only supports
// os.Kill reliably.
func (r *Record) Signal(sig syscall.Signal) error {
	pid, err := r.PID()
	if err != nil {
		return fmt.Errorf("no recorded server pid: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return proc.Signal(sig)
}
