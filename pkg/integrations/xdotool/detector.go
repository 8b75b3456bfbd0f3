package xdotool

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/actionsum/focusbeat/pkg/window"
)

// runner executes a command and returns its stdout.
type runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Detector implements window.Detector for X11 by shelling out to xdotool
// and xprop. It is the fallback when the native protocol client cannot be used.
type Detector struct {
	hasXdotool bool
	hasXprop   bool
	run        runner
}

// NewDetector creates a new xdotool detector
func NewDetector() *Detector {
	d := &Detector{run: execRunner}
	d.hasXdotool = d.commandExists("xdotool")
	d.hasXprop = d.commandExists("xprop")
	return d
}

// commandExists checks if a command is available in PATH
func (d *Detector) commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// IsAvailable checks if xdotool detection is available
func (d *Detector) IsAvailable() bool {
	return d.hasXdotool
}

// GetDisplayServer returns "x11"
func (d *Detector) GetDisplayServer() string {
	return "x11"
}

// GetFocusedWindow returns information about the currently focused window
func (d *Detector) GetFocusedWindow() (*window.WindowInfo, error) {
	if os.Getenv("DISPLAY") == "" {
		return nil, window.Fatalf("DISPLAY environment variable not set")
	}
	if !d.hasXdotool {
		return nil, window.Fatalf("xdotool not found in PATH")
	}

	windowIDOutput, err := d.run("xdotool", "getactivewindow")
	if err != nil {
		return nil, fmt.Errorf("failed to get active x11 window ID: %w", err)
	}
	windowID := strings.TrimSpace(string(windowIDOutput))
	if windowID == "" {
		return &window.WindowInfo{}, nil
	}

	windowNameOutput, err := d.run("xdotool", "getwindowname", windowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get window name: %w", err)
	}

	info := &window.WindowInfo{
		WindowTitle: strings.TrimSpace(string(windowNameOutput)),
	}

	// WM_CLASS works for Flatpak apps where the pid lookup does not
	if d.hasXprop {
		if classOutput, err := d.run("xprop", "-id", windowID, "WM_CLASS"); err == nil {
			info.AppName = parseWMClass(string(classOutput))
		}
	}

	if info.AppName == "" {
		if pidOutput, err := d.run("xdotool", "getwindowpid", windowID); err == nil {
			pid := strings.TrimSpace(string(pidOutput))
			if psOutput, err := d.run("ps", "-p", pid, "-o", "comm="); err == nil {
				info.AppName = strings.TrimSpace(string(psOutput))
			}
		}
	}

	return info, nil
}

// parseWMClass extracts the class name from WM_CLASS property
func parseWMClass(output string) string {
	parts := strings.Split(output, "=")
	if len(parts) < 2 {
		return ""
	}

	classInfo := strings.TrimSpace(parts[1])
	classInfo = strings.Trim(classInfo, "\"")

	classes := strings.Split(classInfo, ",")
	className := strings.TrimSpace(classes[len(classes)-1])
	return strings.Trim(className, "\" ")
}

// Close cleans up resources
func (d *Detector) Close() error {
	return nil
}
