package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestLoadEnvFile_MissingIsIgnored(t *testing.T) {
	t.Parallel()

	if err := loadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if err := loadEnvFile(""); err != nil {
		t.Fatalf("loadEnvFile(\"\"): %v", err)
	}
}

func TestLoadEnvFile_DoesNotOverrideExisting(t *testing.T) {
	t.Setenv("LIFELINE_TEST_PRESET", "from-env")
	t.Setenv("LIFELINE_TEST_FROM_FILE", "")
	os.Unsetenv("LIFELINE_TEST_FROM_FILE")

	path := filepath.Join(t.TempDir(), "test.env")
	body := "LIFELINE_TEST_PRESET=from-file\nLIFELINE_TEST_FROM_FILE=loaded\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("LIFELINE_TEST_PRESET"); got != "from-env" {
		t.Errorf("LIFELINE_TEST_PRESET = %q, want %q", got, "from-env")
	}
	if got := os.Getenv("LIFELINE_TEST_FROM_FILE"); got != "loaded" {
		t.Errorf("LIFELINE_TEST_FROM_FILE = %q, want %q", got, "loaded")
	}
}

func TestWaitFn(t *testing.T) {
	t.Parallel()

	if err := waitFn(func() {})(context.Background()); err != nil {
		t.Errorf("completed wait returned %v", err)
	}

	block := make(chan struct{})
	defer close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := waitFn(func() { <-block })(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("blocked wait returned %v, want deadline exceeded", err)
	}
}
