package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// ADBConfig locates the device and the on-screen chat controls.
type ADBConfig struct {
	// Binary is the adb executable (default "adb").
	Binary string
	// DeviceAddr is the tcp endpoint to `adb connect` to, e.g.
	// "127.0.0.1:5555". Empty means a USB device is already attached.
	DeviceAddr string
	// InputX/InputY is the tap target for the chat input box.
	InputX, InputY int
	// SendX/SendY is the tap target for the send button.
	SendX, SendY int
}

// ADBSender types replies into the companion app over adb. Text is pushed
// through the ADBKeyBoard broadcast so non-ASCII survives the trip.
type ADBSender struct {
	cfg ADBConfig

	mu        sync.Mutex
	connected bool

	// run executes an adb invocation and returns combined output.
	// Swappable for tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewADBSender builds a sender for cfg.
func NewADBSender(cfg ADBConfig) *ADBSender {
	if cfg.Binary == "" {
		cfg.Binary = "adb"
	}
	s := &ADBSender{cfg: cfg}
	s.run = func(ctx context.Context, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, s.cfg.Binary, args...).CombinedOutput()
	}
	return s
}

// Connect attaches to the configured device and verifies it shows up in
// `adb devices`.
func (s *ADBSender) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.DeviceAddr != "" {
		out, err := s.run(ctx, "connect", s.cfg.DeviceAddr)
		if err != nil {
			return fmt.Errorf("adb connect: %w", err)
		}
		if strings.Contains(string(out), "failed") || strings.Contains(string(out), "refused") {
			return fmt.Errorf("adb connect %s: %s", s.cfg.DeviceAddr, strings.TrimSpace(string(out)))
		}
	}
	out, err := s.run(ctx, "devices")
	if err != nil {
		return fmt.Errorf("adb devices: %w", err)
	}
	if !hasOnlineDevice(string(out)) {
		return fmt.Errorf("no adb device online")
	}
	s.connected = true
	slog.Info("adb device connected", slog.String("addr", s.cfg.DeviceAddr))
	return nil
}

// Ready reports whether a device is attached.
func (s *ADBSender) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Send taps the input box, types text via the ADBKeyBoard base64 broadcast,
// and taps the send button.
func (s *ADBSender) Send(ctx context.Context, text string) error {
	if !s.Ready() {
		// Device may have come online since startup; each send gets one
		// connect attempt before failing into the worker's retry path.
		if err := s.Connect(ctx); err != nil {
			return fmt.Errorf("adb device not connected: %w", err)
		}
	}
	if err := s.tap(ctx, s.cfg.InputX, s.cfg.InputY); err != nil {
		return fmt.Errorf("tap input: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	if _, err := s.run(ctx, "shell", "am", "broadcast", "-a", "ADB_INPUT_B64", "--es", "msg", encoded); err != nil {
		return fmt.Errorf("input text: %w", err)
	}
	if err := s.tap(ctx, s.cfg.SendX, s.cfg.SendY); err != nil {
		return fmt.Errorf("tap send: %w", err)
	}
	return nil
}

// Disconnect detaches from the device.
func (s *ADBSender) Disconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.DeviceAddr != "" {
		if _, err := s.run(ctx, "disconnect", s.cfg.DeviceAddr); err != nil {
			slog.Warn("adb disconnect failed", slog.Any("err", err))
		}
	}
	s.connected = false
}

func (s *ADBSender) tap(ctx context.Context, x, y int) error {
	_, err := s.run(ctx, "shell", "input", "tap", fmt.Sprint(x), fmt.Sprint(y))
	return err
}

// hasOnlineDevice scans `adb devices` output for a serial in the "device"
// state (as opposed to "offline" or "unauthorized").
func hasOnlineDevice(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			return true
		}
	}
	return false
}
