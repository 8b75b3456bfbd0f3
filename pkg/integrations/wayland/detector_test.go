package wayland

import (
	"errors"
	"testing"

	"github.com/actionsum/focusbeat/pkg/window"
)

const swayTree = `{
  "id": 1, "type": "root", "focused": false, "name": "root",
  "nodes": [
    {
      "id": 3, "type": "output", "focused": false, "name": "eDP-1",
      "nodes": [
        {
          "id": 4, "type": "workspace", "focused": false, "name": "1",
          "nodes": [
            {"id": 7, "type": "con", "focused": false, "name": "vim", "app_id": "foot", "nodes": []},
            {"id": 8, "type": "con", "focused": true, "name": "GitHub - Chromium", "app_id": null,
             "window_properties": {"class": "Chromium", "instance": "chromium"}, "nodes": []}
          ],
          "floating_nodes": []
        }
      ]
    }
  ]
}`

const swayFloatingTree = `{
  "type": "root", "focused": false,
  "nodes": [
    {"type": "workspace", "focused": false, "nodes": [],
     "floating_nodes": [{"type": "floating_con", "focused": true, "name": "Picture-in-Picture", "app_id": "firefox"}]}
  ]
}`

const swayEmptyWorkspace = `{
  "type": "root", "focused": false,
  "nodes": [{"type": "workspace", "focused": true, "name": "2", "nodes": [], "floating_nodes": []}]
}`

func TestGetDisplayServer(t *testing.T) {
	detector := NewDetector()
	if ds := detector.GetDisplayServer(); ds != "wayland" {
		t.Errorf("GetDisplayServer() = %s, want %s", ds, "wayland")
	}
}

func TestDetectCompositor(t *testing.T) {
	t.Setenv("SWAYSOCK", "/run/user/1000/sway-ipc.sock")
	if got := detectCompositor(); got != "sway" {
		t.Errorf("detectCompositor() = %s, want sway", got)
	}

	t.Setenv("SWAYSOCK", "")
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "abc_123")
	if got := detectCompositor(); got != "hyprland" {
		t.Errorf("detectCompositor() = %s, want hyprland", got)
	}
}

func TestIsAvailable(t *testing.T) {
	tests := []struct {
		name     string
		detector *Detector
		want     bool
	}{
		{"sway with swaymsg", &Detector{compositor: "sway", hasSwaymsg: true}, true},
		{"sway without swaymsg", &Detector{compositor: "sway"}, false},
		{"hyprland with hyprctl", &Detector{compositor: "hyprland", hasHyprctl: true}, true},
		{"unknown", &Detector{compositor: "unknown", hasSwaymsg: true, hasHyprctl: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.detector.IsAvailable(); got != tt.want {
				t.Errorf("IsAvailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSwayTree(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  window.WindowInfo
	}{
		{
			name:  "XWayland client",
			input: swayTree,
			want:  window.WindowInfo{AppName: "Chromium", WindowTitle: "GitHub - Chromium"},
		},
		{
			name:  "Floating native client",
			input: swayFloatingTree,
			want:  window.WindowInfo{AppName: "firefox", WindowTitle: "Picture-in-Picture"},
		},
		{
			name:  "Empty workspace focused",
			input: swayEmptyWorkspace,
			want:  window.WindowInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseSwayTree([]byte(tt.input))
			if err != nil {
				t.Fatalf("parseSwayTree() error: %v", err)
			}
			if *info != tt.want {
				t.Errorf("parseSwayTree() = %+v, want %+v", *info, tt.want)
			}
		})
	}

	if _, err := parseSwayTree([]byte("not json")); err == nil {
		t.Error("parseSwayTree(invalid) returned no error")
	}
}

func TestParseHyprlandWindow(t *testing.T) {
	info, err := parseHyprlandWindow([]byte(`{"address": "0x55d1", "class": "kitty", "title": "~/src", "pid": 4242}`))
	if err != nil {
		t.Fatalf("parseHyprlandWindow() error: %v", err)
	}
	if info.AppName != "kitty" || info.WindowTitle != "~/src" {
		t.Errorf("parseHyprlandWindow() = %+v", *info)
	}

	info, err = parseHyprlandWindow([]byte(`{}`))
	if err != nil {
		t.Fatalf("parseHyprlandWindow(empty) error: %v", err)
	}
	if *info != (window.WindowInfo{}) {
		t.Errorf("parseHyprlandWindow(empty) = %+v, want empty", *info)
	}
}

func TestGetFocusedWindow(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "wayland-1")

	detector := &Detector{
		compositor: "hyprland",
		hasHyprctl: true,
		run: func(name string, args ...string) ([]byte, error) {
			return []byte(`{"class": "code", "title": "main.go - focusbeat"}`), nil
		},
	}

	info, err := detector.GetFocusedWindow()
	if err != nil {
		t.Fatalf("GetFocusedWindow() error: %v", err)
	}
	if info.AppName != "code" {
		t.Errorf("AppName = %s, want code", info.AppName)
	}

	detector.run = func(name string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}
	_, err = detector.GetFocusedWindow()
	if window.Classify(err) != window.OutcomeRecoverable {
		t.Errorf("Classify(%v) = %v, want recoverable", err, window.Classify(err))
	}
}

func TestGetFocusedWindowWithoutSession(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "")
	t.Setenv("XDG_SESSION_TYPE", "x11")

	detector := &Detector{compositor: "sway", hasSwaymsg: true, run: execRunner}
	_, err := detector.GetFocusedWindow()
	if window.Classify(err) != window.OutcomeFatal {
		t.Errorf("Classify(%v) = %v, want fatal", err, window.Classify(err))
	}
}

func TestDetectorInterface(t *testing.T) {
	var _ window.Detector = (*Detector)(nil)
}
