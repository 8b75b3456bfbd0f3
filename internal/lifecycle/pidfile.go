package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrNotRunning is returned by Stop when no live watcher owns the PID file.
var ErrNotRunning = errors.New("watcher is not running or PID file is stale")

// PIDFile manages the PID file of a running watcher
type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process. It fails if another live process
// already owns the file.
func (p *PIDFile) Write() error {
	running, pid, err := p.IsRunning()
	if err != nil {
		return err
	}
	if running && pid != os.Getpid() {
		return fmt.Errorf("watcher already running with PID %d", pid)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	return os.WriteFile(p.path, fmt.Appendf([]byte{}, "%d", os.Getpid()), 0644)
}

func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// Remove deletes the PID file if it still names this process
func (p *PIDFile) Remove() error {
	pid, err := p.Read()
	if err == nil && pid != 0 && pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive. A stale file is
// removed.
func (p *PIDFile) IsRunning() (bool, int, error) {
	pid, err := p.Read()
	if err != nil {
		return false, 0, err
	}

	if pid <= 0 {
		return false, 0, nil
	}

	if !alive(pid) {
		_ = os.Remove(p.path)
		return false, 0, nil
	}

	return true, pid, nil
}

// Stop sends SIGTERM to the recorded process. The watcher removes its own
// PID file on the way out.
func (p *PIDFile) Stop() (int, error) {
	running, pid, err := p.IsRunning()
	if err != nil {
		return 0, fmt.Errorf("error checking watcher status: %w", err)
	}

	if !running {
		return 0, ErrNotRunning
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			_ = os.Remove(p.path)
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	return pid, nil
}

// alive probes pid with signal 0. EPERM means the process exists but belongs
// to someone else.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
