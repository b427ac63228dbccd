// Package daemon tracks the background revy server through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotRunning     = errors.New("server not running")
)

// PIDFile manages a PID file for daemon process tracking.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file, creating its directory.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Acquire records pid as the running server. A PID file left by a dead
// process, or already naming pid, is replaced.
func (p *PIDFile) Acquire(pid int) error {
	if running, ok := p.IsRunning(); ok && running != pid {
		return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, running)
	}
	return p.WritePID(pid)
}

// Release removes the PID file if it still names pid.
func (p *PIDFile) Release(pid int) error {
	current, err := p.Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil || current != pid {
		return err
	}
	if err := p.Remove(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Stop sends a termination signal and waits up to grace for the process to
// exit before killing it. The PID file is removed once the process is gone.
func (p *PIDFile) Stop(grace time.Duration) (int, error) {
	pid, ok := p.IsRunning()
	if !ok {
		if pid != 0 {
			_ = p.Remove()
		}
		return 0, ErrNotRunning
	}
	if err := p.Signal(terminateSignal); err != nil {
		return pid, fmt.Errorf("signal PID %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if _, alive := p.IsRunning(); !alive {
			_ = p.Remove()
			return pid, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := p.Signal(killSignal); err != nil {
		return pid, fmt.Errorf("kill PID %d: %w", pid, err)
	}
	_ = p.Remove()
	return pid, nil
}
