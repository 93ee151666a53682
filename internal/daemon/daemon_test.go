package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/piwardrive/piwardrive/internal/config"
	"github.com/piwardrive/piwardrive/internal/widget"
)

func TestNewWithConfig_WiresEverySubsystem(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default(home)

	d, err := NewWithConfig(home, cfg, nil)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	t.Cleanup(func() { d.Shutdown(context.Background()) })

	if d.DB == nil || d.Bus == nil || d.Tiles == nil || d.Queue == nil ||
		d.Scheduler == nil || d.Health == nil || d.GPS == nil || d.Server == nil {
		t.Fatal("expected every subsystem to be non-nil")
	}
	if d.RemoteSync != nil {
		t.Fatal("expected RemoteSync to be nil when RemoteSyncURL is unset")
	}
}

func TestNewWithConfig_WiresRemoteSyncWhenURLConfigured(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default(home)
	cfg.RemoteSyncURL = "http://127.0.0.1:0/sync"

	d, err := NewWithConfig(home, cfg, nil)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	t.Cleanup(func() { d.Shutdown(context.Background()) })

	if d.RemoteSync == nil {
		t.Fatal("expected RemoteSync to be wired when RemoteSyncURL is set")
	}
}

func TestNewWithConfig_RegistersDefaultWidgets(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default(home)

	d, err := NewWithConfig(home, cfg, nil)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	t.Cleanup(func() { d.Shutdown(context.Background()) })

	names := map[string]bool{}
	for _, n := range widget.Names() {
		names[n] = true
	}
	for _, want := range []string{"health", "gps", "tilecache", "remotesync"} {
		if !names[want] {
			t.Fatalf("widget registry %v missing %q", widget.Names(), want)
		}
	}
}

func TestServe_ShutsDownOnContextCancel(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default(home)

	d, err := NewWithConfig(home, cfg, nil)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not shut down after context cancellation")
	}
}
