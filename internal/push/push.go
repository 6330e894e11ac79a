// Package push keeps the device's EventPush target pointed at this bridge.
// Firmware drops or disables the push configuration after reboots and
// settings changes, so a watchdog re-applies it.
package push

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
)

const (
	watchdogInterval = 60 * time.Second

	// reapplyMinGap rate-limits reconfiguration so a device that refuses the
	// setting does not get hammered.
	reapplyMinGap = 300 * time.Second
)

// DeviceConfigurer is the slice of the client the watchdog writes through.
type DeviceConfigurer interface {
	SetEventPushConfig(ctx context.Context, t raysharp.PushTable) error
}

// StateSource returns the last fetched event_push_config snapshot.
type StateSource func() map[string]any

// Configurator applies and maintains the EventPush target.
type Configurator struct {
	client DeviceConfigurer
	state  StateSource
	table  raysharp.PushTable

	mu          sync.Mutex
	lastApplied time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewConfigurator builds a configurator pushing to addr:port at urlPath.
func NewConfigurator(client DeviceConfigurer, state StateSource, name, addr string, port int, urlPath string) *Configurator {
	return &Configurator{
		client: client,
		state:  state,
		table: raysharp.PushTable{
			Name:   name,
			Addr:   addr,
			Port:   port,
			URL:    urlPath,
			Enable: true,
		},
		stopChan: make(chan struct{}),
	}
}

// Configure writes the push target to the device.
func (c *Configurator) Configure(ctx context.Context) error {
	c.mu.Lock()
	c.lastApplied = time.Now()
	c.mu.Unlock()
	if err := c.client.SetEventPushConfig(ctx, c.table); err != nil {
		return err
	}
	log.Printf("[DEBUG] push: configured EventPush target %s:%d%s", c.table.Addr, c.table.Port, c.table.URL)
	return nil
}

// Start runs the watchdog loop.
func (c *Configurator) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

func (c *Configurator) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *Configurator) runLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.check()
		}
	}
}

func (c *Configurator) check() {
	cfg := c.state()
	if cfg == nil {
		// Coordinator has no data yet; nothing to judge.
		return
	}
	if pushEnabled(cfg) {
		return
	}

	c.mu.Lock()
	recent := time.Since(c.lastApplied) < reapplyMinGap
	c.mu.Unlock()
	if recent {
		return
	}

	log.Printf("[ERROR] push: EventPush disabled on device, re-applying configuration")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.Configure(ctx); err != nil {
		log.Printf("[ERROR] push: reconfigure failed: %v", err)
	}
}

// pushEnabled digs the enable flag out of whichever shape this firmware
// returns: a flat flag, the nested params.table, or a list of push targets.
func pushEnabled(cfg map[string]any) bool {
	if v, ok := cfg["enable"]; ok {
		return truthy(v)
	}
	if params, ok := cfg["params"].(map[string]any); ok {
		if table, ok := params["table"].(map[string]any); ok {
			if v, ok := table["enable"]; ok {
				return truthy(v)
			}
		}
	}
	for _, key := range []string{"table", "items", "push_list"} {
		if list, ok := cfg[key].([]any); ok {
			for _, raw := range list {
				if item, ok := raw.(map[string]any); ok {
					if v, ok := item["enable"]; ok && truthy(v) {
						return true
					}
				}
			}
			return false
		}
	}
	// Shape not recognized: assume enabled rather than fight the device.
	return true
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x == "1" || x == "true"
	}
	return false
}
