package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Watch(ctx, path, func(cfg *Config) { reloaded <- cfg })

	// Give the watcher a moment to register before touching the file.
	time.Sleep(50 * time.Millisecond)

	updated := strings.Replace(minimalConfig, "host: 192.168.1.50", "host: 192.168.1.99", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.NVR.Host != "192.168.1.99" {
			t.Errorf("reloaded host = %q", cfg.NVR.Host)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after file write")
	}
}

func TestWatchKeepsPreviousOnParseError(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Watch(ctx, path, func(cfg *Config) { reloaded <- cfg })

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("nvr: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("broken config must not reach onReload, got %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}
