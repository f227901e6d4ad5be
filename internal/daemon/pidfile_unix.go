//go:build !windows

package daemon

import (
	"fmt"
	"syscall"
)

// Alive returns the recorded PID and whether that process still exists.
// No record, or a record pointing at a dead process, reads as not alive.
func (r *Record) Alive() (int, bool) {
	pid, err := r.PID()
	if err != nil {
		return 0, false
	}
	// Signal 0 checks for existence without delivering anything.
	return pid, syscall.Kill(pid, 0) == nil
}

// Signal delivers sig to the recorded server process.
func (r *Record) Signal(sig syscall.Signal) error {
	pid, err := r.PID()
	if err != nil {
		return fmt.Errorf("no recorded server pid: %w", err)
	}
	return syscall.Kill(pid, sig)
}
