// Package daemon tracks the detached trk API server through a PID file in
// the state directory.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Record points at the PID file for the background server process.
type Record struct {
	path string
}

func New(path string) *Record {
	return &Record{path: path}
}

// Capture stores the calling process's PID.
func (r *Record) Capture() error {
	return r.Store(os.Getpid())
}

// Store writes pid to the file, replacing any previous record.
func (r *Record) Store(pid int) error {
	return os.WriteFile(r.path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// PID reads back the recorded PID. A missing or mangled file is an error.
func (r *Record) PID() (int, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", r.path, err)
	}
	return pid, nil
}

// Clear removes the record. Clearing an absent record is not an error.
func (r *Record) Clear() error {
	err := os.Remove(r.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
