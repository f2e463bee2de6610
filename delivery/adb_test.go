package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

type adbCall struct {
	args []string
}

// scriptedADB records adb invocations and returns canned output keyed by
// the first argument.
func scriptedADB(calls *[]adbCall, out map[string]string, fail map[string]error) func(ctx context.Context, args ...string) ([]byte, error) {
	return func(ctx context.Context, args ...string) ([]byte, error) {
		*calls = append(*calls, adbCall{args: args})
		key := args[0]
		if err := fail[key]; err != nil {
			return nil, err
		}
		return []byte(out[key]), nil
	}
}

func TestADBConnectVerifiesDevice(t *testing.T) {
	var calls []adbCall
	s := NewADBSender(ADBConfig{DeviceAddr: "127.0.0.1:5555"})
	s.run = scriptedADB(&calls, map[string]string{
		"connect": "connected to 127.0.0.1:5555",
		"devices": "List of devices attached\n127.0.0.1:5555\tdevice\n",
	}, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.Ready() {
		t.Fatal("Ready() = false after successful connect")
	}
	if len(calls) != 2 || calls[0].args[0] != "connect" || calls[1].args[0] != "devices" {
		t.Fatalf("unexpected call sequence %v", calls)
	}
}

func TestADBConnectRejectsOfflineDevice(t *testing.T) {
	var calls []adbCall
	s := NewADBSender(ADBConfig{DeviceAddr: "127.0.0.1:5555"})
	s.run = scriptedADB(&calls, map[string]string{
		"connect": "connected to 127.0.0.1:5555",
		"devices": "List of devices attached\n127.0.0.1:5555\toffline\n",
	}, nil)

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected error for offline device")
	}
	if s.Ready() {
		t.Fatal("Ready() = true after failed connect")
	}
}

func TestADBConnectSurfacesRefusedConnect(t *testing.T) {
	var calls []adbCall
	s := NewADBSender(ADBConfig{DeviceAddr: "10.0.0.9:5555"})
	s.run = scriptedADB(&calls, map[string]string{
		"connect": "failed to connect to 10.0.0.9:5555",
	}, nil)

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected error when adb connect reports failure")
	}
}

func TestADBSendSequence(t *testing.T) {
	var calls []adbCall
	s := NewADBSender(ADBConfig{InputX: 100, InputY: 200, SendX: 300, SendY: 400})
	s.run = scriptedADB(&calls, map[string]string{
		"devices": "List of devices attached\nemulator-5554\tdevice\n",
	}, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	calls = calls[:0]

	if err := s.Send(context.Background(), "hello stream"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("got %d adb calls, want tap/broadcast/tap", len(calls))
	}
	tapIn := strings.Join(calls[0].args, " ")
	if tapIn != "shell input tap 100 200" {
		t.Fatalf("first call %q", tapIn)
	}
	b64 := base64.StdEncoding.EncodeToString([]byte("hello stream"))
	broadcast := strings.Join(calls[1].args, " ")
	if !strings.Contains(broadcast, "ADB_INPUT_B64") || !strings.Contains(broadcast, b64) {
		t.Fatalf("broadcast call %q missing base64 payload", broadcast)
	}
	tapSend := strings.Join(calls[2].args, " ")
	if tapSend != "shell input tap 300 400" {
		t.Fatalf("third call %q", tapSend)
	}
}

func TestADBSendRequiresConnection(t *testing.T) {
	var calls []adbCall
	s := NewADBSender(ADBConfig{})
	s.run = scriptedADB(&calls, map[string]string{
		"devices": "List of devices attached\n",
	}, nil)
	if err := s.Send(context.Background(), "x"); err == nil {
		t.Fatal("expected error sending with no device online")
	}
}

func TestADBSendPropagatesTapFailure(t *testing.T) {
	var calls []adbCall
	s := NewADBSender(ADBConfig{})
	s.run = scriptedADB(&calls, map[string]string{
		"devices": "List of devices attached\nemulator-5554\tdevice\n",
	}, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.run = scriptedADB(&calls, nil, map[string]error{
		"shell": errors.New("device gone"),
	})
	if err := s.Send(context.Background(), "x"); err == nil {
		t.Fatal("expected tap failure to propagate")
	}
}

func TestHasOnlineDevice(t *testing.T) {
	cases := []struct {
		name string
		out  string
		want bool
	}{
		{"online", "List of devices attached\nabc\tdevice\n", true},
		{"offline", "List of devices attached\nabc\toffline\n", false},
		{"unauthorized", "List of devices attached\nabc\tunauthorized\n", false},
		{"empty", "List of devices attached\n\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := hasOnlineDevice(tc.out); got != tc.want {
				t.Fatalf("hasOnlineDevice = %v, want %v", got, tc.want)
			}
		})
	}
}
