// Package lifecycle covers process supervision: the PID file used by the
// stop and status commands, and detection of a dead parent.
package lifecycle

import (
	"golang.org/x/sys/unix"
)

// initPID is the pid orphans are reparented to, unless a subreaper is set.
const initPID = 1

// ParentWatcher detects that the process that started the watcher has died.
type ParentWatcher struct {
	original int
	getppid  func() int
}

// NewParentWatcher records the current parent pid.
func NewParentWatcher() *ParentWatcher {
	return newParentWatcher(unix.Getppid)
}

func newParentWatcher(getppid func() int) *ParentWatcher {
	return &ParentWatcher{original: getppid(), getppid: getppid}
}

// Orphaned reports whether the parent is gone: the process was reparented
// to init or to a subreaper. A watcher started directly by init is never
// considered orphaned.
func (w *ParentWatcher) Orphaned() bool {
	if w.original == initPID {
		return false
	}
	ppid := w.getppid()
	return ppid == initPID || ppid != w.original
}

// Parent returns the parent pid recorded at startup
func (w *ParentWatcher) Parent() int {
	return w.original
}
