package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
)

type fakeConfigurer struct {
	mu     sync.Mutex
	err    error
	tables []raysharp.PushTable
}

func (f *fakeConfigurer) SetEventPushConfig(ctx context.Context, t raysharp.PushTable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append(f.tables, t)
	return f.err
}

func (f *fakeConfigurer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables)
}

func TestConfigureWritesTarget(t *testing.T) {
	f := &fakeConfigurer{}
	c := NewConfigurator(f, func() map[string]any { return nil }, "bridge", "10.0.0.2", 8093, "/webhook")

	if err := c.Configure(context.Background()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if f.count() != 1 {
		t.Fatalf("got %d writes, want 1", f.count())
	}
	table := f.tables[0]
	if table.Addr != "10.0.0.2" || table.Port != 8093 || table.URL != "/webhook" {
		t.Errorf("table = %+v", table)
	}
	if !table.Enable {
		t.Error("push target must be enabled")
	}
}

func TestPushEnabledShapes(t *testing.T) {
	cases := []struct {
		name string
		cfg  map[string]any
		want bool
	}{
		{"flat enabled bool", map[string]any{"enable": true}, true},
		{"flat disabled bool", map[string]any{"enable": false}, false},
		{"flat numeric", map[string]any{"enable": float64(1)}, true},
		{"flat numeric zero", map[string]any{"enable": float64(0)}, false},
		{"flat string", map[string]any{"enable": "true"}, true},
		{
			"nested params table",
			map[string]any{"params": map[string]any{"table": map[string]any{"enable": float64(1)}}},
			true,
		},
		{
			"nested params table disabled",
			map[string]any{"params": map[string]any{"table": map[string]any{"enable": false}}},
			false,
		},
		{
			"target list one enabled",
			map[string]any{"push_list": []any{
				map[string]any{"enable": false},
				map[string]any{"enable": "1"},
			}},
			true,
		},
		{
			"target list all disabled",
			map[string]any{"items": []any{map[string]any{"enable": float64(0)}}},
			false,
		},
		{"empty target list", map[string]any{"table": []any{}}, false},
		// Firmware shapes we do not recognize are left alone.
		{"unknown shape", map[string]any{"something_else": 1}, true},
		{"empty config", map[string]any{}, true},
	}
	for _, c := range cases {
		if got := pushEnabled(c.cfg); got != c.want {
			t.Errorf("%s: pushEnabled = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestCheckReappliesWhenDisabled(t *testing.T) {
	f := &fakeConfigurer{}
	c := NewConfigurator(f, func() map[string]any {
		return map[string]any{"enable": false}
	}, "bridge", "10.0.0.2", 8093, "/webhook")

	c.check()
	if f.count() != 1 {
		t.Errorf("got %d writes, want 1 reapply", f.count())
	}

	// A second check inside the rate-limit window does nothing.
	c.check()
	if f.count() != 1 {
		t.Errorf("got %d writes, want rate limit to hold", f.count())
	}

	// Once the gap has passed, the watchdog reapplies again.
	c.mu.Lock()
	c.lastApplied = time.Now().Add(-2 * reapplyMinGap)
	c.mu.Unlock()
	c.check()
	if f.count() != 2 {
		t.Errorf("got %d writes, want 2 after rate limit expiry", f.count())
	}
}

func TestCheckSkipsWhenEnabledOrUnknown(t *testing.T) {
	f := &fakeConfigurer{}
	state := map[string]any{"enable": true}
	var mu sync.Mutex
	c := NewConfigurator(f, func() map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return state
	}, "bridge", "10.0.0.2", 8093, "/webhook")

	c.check()
	if f.count() != 0 {
		t.Errorf("enabled push must not be rewritten, got %d writes", f.count())
	}

	// No coordinator data yet: nothing to judge, nothing written.
	mu.Lock()
	state = nil
	mu.Unlock()
	c.check()
	if f.count() != 0 {
		t.Errorf("nil state must not trigger a write, got %d", f.count())
	}
}

func TestStartStop(t *testing.T) {
	f := &fakeConfigurer{}
	c := NewConfigurator(f, func() map[string]any { return nil }, "bridge", "10.0.0.2", 8093, "/webhook")
	c.Start()
	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
