package x11

import (
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"go.uber.org/zap"

	"github.com/actionsum/focusbeat/pkg/window"
)

func TestNewDetectorWithoutDisplay(t *testing.T) {
	t.Setenv("DISPLAY", "")

	detector, err := NewDetector()
	if err == nil {
		detector.Close()
		t.Fatal("NewDetector() succeeded without DISPLAY")
	}
	if window.Classify(err) != window.OutcomeFatal {
		t.Errorf("Classify(%v) = %v, want fatal", err, window.Classify(err))
	}
}

func TestGetFocusedWindow(t *testing.T) {
	detector, err := NewDetector()
	if err != nil {
		t.Skipf("X11 not available on this system: %v", err)
	}
	defer detector.Close()

	windowInfo, err := detector.GetFocusedWindow()
	if err != nil {
		t.Logf("GetFocusedWindow() error (may be expected): %v", err)
		return
	}
	if windowInfo == nil {
		t.Fatal("GetFocusedWindow() returned nil windowInfo without error")
	}

	t.Logf("App Name: %s", windowInfo.AppName)
	t.Logf("Window Title: %s", windowInfo.WindowTitle)
}

func TestClosedDetectorIsFatal(t *testing.T) {
	detector := &Detector{}
	if detector.IsAvailable() {
		t.Error("IsAvailable() = true for a detector without connection")
	}

	_, err := detector.GetFocusedWindow()
	if window.Classify(err) != window.OutcomeFatal {
		t.Errorf("GetFocusedWindow() on closed detector: %v, want fatal", err)
	}
	if err := detector.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

// serveSetupThenHangUp accepts the connection handshake on server and then
// closes it, like an X server that went away after the client connected.
func serveSetupThenHangUp(t *testing.T, server net.Conn) {
	t.Helper()

	go func() {
		defer server.Close()

		// Byte order, protocol version and empty authorization.
		if _, err := io.ReadFull(server, make([]byte, 12)); err != nil {
			return
		}

		setup := make([]byte, 8+32)
		setup[0] = 1
		binary.LittleEndian.PutUint16(setup[2:], 11)
		binary.LittleEndian.PutUint16(setup[6:], 8)
		binary.LittleEndian.PutUint32(setup[12:], 0x00400000)
		binary.LittleEndian.PutUint32(setup[16:], 0x001fffff)
		_, _ = server.Write(setup)
	}()
}

func TestLostConnectionIsFatal(t *testing.T) {
	t.Setenv("XAUTHORITY", filepath.Join(t.TempDir(), "missing"))
	previous := xgb.Logger
	t.Cleanup(func() { xgb.Logger = previous })
	SetLogger(zap.NewNop())

	client, server := net.Pipe()
	serveSetupThenHangUp(t, server)

	conn, err := xgb.NewConnNet(client)
	if err != nil {
		t.Fatalf("NewConnNet() error: %v", err)
	}

	detector := &Detector{conn: conn, root: 1, atoms: map[string]xproto.Atom{}}
	defer detector.Close()

	for tick := 0; tick < 3; tick++ {
		_, err := detector.GetFocusedWindow()
		if window.Classify(err) != window.OutcomeFatal {
			t.Fatalf("tick %d: GetFocusedWindow() = %v, want fatal", tick, err)
		}
	}
}

func TestSetLogger(t *testing.T) {
	previous := xgb.Logger
	t.Cleanup(func() { xgb.Logger = previous })

	SetLogger(zap.NewNop())
	if xgb.Logger == previous {
		t.Error("SetLogger() did not replace the protocol logger")
	}
}

func TestParseWMClass(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantInstance string
		wantClass    string
	}{
		{
			name:         "Standard format",
			input:        "Navigator\x00Firefox\x00",
			wantInstance: "Navigator",
			wantClass:    "Firefox",
		},
		{
			name:         "Instance only",
			input:        "kitty\x00",
			wantInstance: "kitty",
		},
		{
			name:  "Empty",
			input: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance, class := parseWMClass([]byte(tt.input))
			if instance != tt.wantInstance || class != tt.wantClass {
				t.Errorf("parseWMClass(%q) = (%q, %q), want (%q, %q)",
					tt.input, instance, class, tt.wantInstance, tt.wantClass)
			}
		})
	}
}

func TestDecodeWindow(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 0x80032b)

	if got := decodeWindow(buf); got != xproto.Window(0x80032b) {
		t.Errorf("decodeWindow() = %#x, want 0x80032b", got)
	}
	if got := decodeWindow([]byte{1, 2}); got != 0 {
		t.Errorf("decodeWindow(short) = %#x, want 0", got)
	}
}

func TestDetectorInterface(t *testing.T) {
	var _ window.Detector = (*Detector)(nil)
}
