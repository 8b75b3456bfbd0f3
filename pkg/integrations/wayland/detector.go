package wayland

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/tidwall/gjson"

	"github.com/actionsum/focusbeat/pkg/window"
)

// runner executes a command and returns its stdout.
type runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Detector implements window.Detector for Wayland compositors that expose
// the focused window over IPC (sway and Hyprland).
type Detector struct {
	compositor string
	hasSwaymsg bool
	hasHyprctl bool
	run        runner
}

// NewDetector creates a new Wayland detector
func NewDetector() *Detector {
	d := &Detector{run: execRunner}
	d.hasSwaymsg = d.commandExists("swaymsg")
	d.hasHyprctl = d.commandExists("hyprctl")
	d.compositor = detectCompositor()
	return d
}

// commandExists checks if a command is available in PATH
func (d *Detector) commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// detectCompositor identifies the compositor from the variables it exports
// into the session environment.
func detectCompositor() string {
	switch {
	case os.Getenv("SWAYSOCK") != "":
		return "sway"
	case os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "":
		return "hyprland"
	}

	// Fall back to a process scan for sessions started without the env
	compositors := []struct {
		process string
		name    string
	}{
		{"sway", "sway"},
		{"Hyprland", "hyprland"},
	}
	for _, c := range compositors {
		if err := exec.Command("pgrep", "-x", c.process).Run(); err == nil {
			return c.name
		}
	}

	return "unknown"
}

// IsAvailable checks if Wayland detection is available
func (d *Detector) IsAvailable() bool {
	switch d.compositor {
	case "sway":
		return d.hasSwaymsg
	case "hyprland":
		return d.hasHyprctl
	default:
		return false
	}
}

// GetDisplayServer returns "wayland"
func (d *Detector) GetDisplayServer() string {
	return "wayland"
}

// GetFocusedWindow returns information about the currently focused window
func (d *Detector) GetFocusedWindow() (*window.WindowInfo, error) {
	if os.Getenv("WAYLAND_DISPLAY") == "" && os.Getenv("XDG_SESSION_TYPE") != "wayland" {
		return nil, window.Fatalf("no wayland session (WAYLAND_DISPLAY not set)")
	}

	switch d.compositor {
	case "sway":
		output, err := d.run("swaymsg", "-t", "get_tree")
		if err != nil {
			return nil, fmt.Errorf("failed to execute swaymsg: %w", err)
		}
		return parseSwayTree(output)
	case "hyprland":
		output, err := d.run("hyprctl", "activewindow", "-j")
		if err != nil {
			return nil, fmt.Errorf("failed to execute hyprctl: %w", err)
		}
		return parseHyprlandWindow(output)
	default:
		return nil, window.Fatalf("unsupported wayland compositor: %s", d.compositor)
	}
}

// parseSwayTree walks the sway layout tree and returns the focused leaf.
// Native Wayland clients report app_id, XWayland clients report
// window_properties.class.
func parseSwayTree(output []byte) (*window.WindowInfo, error) {
	if !gjson.ValidBytes(output) {
		return nil, fmt.Errorf("invalid swaymsg output")
	}

	node, ok := findFocused(gjson.ParseBytes(output))
	if !ok {
		return &window.WindowInfo{}, nil
	}

	appName := node.Get("app_id").String()
	if appName == "" {
		appName = node.Get("window_properties.class").String()
	}

	return &window.WindowInfo{
		AppName:     appName,
		WindowTitle: node.Get("name").String(),
	}, nil
}

func findFocused(node gjson.Result) (gjson.Result, bool) {
	if node.Get("focused").Bool() && node.Get("type").String() != "workspace" {
		return node, true
	}
	for _, key := range []string{"nodes", "floating_nodes"} {
		for _, child := range node.Get(key).Array() {
			if found, ok := findFocused(child); ok {
				return found, true
			}
		}
	}
	return gjson.Result{}, false
}

// parseHyprlandWindow reads `hyprctl activewindow -j`. Hyprland prints an
// empty object when no window has focus.
func parseHyprlandWindow(output []byte) (*window.WindowInfo, error) {
	if !gjson.ValidBytes(output) {
		return nil, fmt.Errorf("invalid hyprctl output")
	}

	result := gjson.ParseBytes(output)
	return &window.WindowInfo{
		AppName:     result.Get("class").String(),
		WindowTitle: result.Get("title").String(),
	}, nil
}

// Close cleans up resources
func (d *Detector) Close() error {
	return nil
}
