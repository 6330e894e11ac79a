package poll

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/metrics"
	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
)

// endpointSpec is one endpoint fetched during a refresh cycle. Payload is
// built per cycle because some endpoints take date-dependent arguments.
type endpointSpec struct {
	key      string
	endpoint string
	payload  func() any
}

func static(payload any) func() any {
	if payload == nil {
		return func() any { return nil }
	}
	return func() any { return payload }
}

func channelConfig() any {
	return map[string]any{"page_type": "ChannelConfig"}
}

// vhdCountPayload asks for today's person/vehicle detection counters.
func vhdCountPayload() any {
	today := time.Now().Format("2006-01-02")
	return map[string]any{
		"MsgId":     nil,
		"StartTime": today + " 00:00:00",
		"EndTime":   today + " 23:59:59",
		"Chn":       []any{},
		"Type":      []int{0, 1, 2, 10},
		"Engine":    0,
	}
}

// coreEndpoints are the device state every consumer depends on. A failure
// here is worth a warning.
var coreEndpoints = []endpointSpec{
	{"device_info", raysharp.EndpointDeviceInfo, static(nil)},
	{"channel_info", raysharp.EndpointChannelInfo, static(nil)},
	{"disk", raysharp.EndpointDiskGet, static(nil)},
	{"stream_urls", raysharp.EndpointStreamURL, static(nil)},
	{"disarming", raysharp.EndpointDisarming, static(nil)},
	{"event_push_config", raysharp.EndpointEventPushConfig, static(nil)},
	{"system_info", raysharp.EndpointSystemInfo, static(nil)},
	{"network_state", raysharp.EndpointNetworkState, static(nil)},
	{"record_info", raysharp.EndpointRecordInfo, static(nil)},
}

// alarmConfigEndpoints exist only on models with the matching detector, so a
// failure is routine and logged at debug.
var alarmConfigEndpoints = []endpointSpec{
	{"date_time", raysharp.EndpointDateTime, static(nil)},
	{"motion_alarm", raysharp.EndpointMotionAlarm, static(nil)},
	{"io_alarm", raysharp.EndpointIOAlarm, static(nil)},
	{"exception_alarm", raysharp.EndpointExceptionAlarm, static(nil)},
	{"fd_alarm", raysharp.EndpointAlarmFD, static(nil)},
	{"lcd_alarm", raysharp.EndpointAlarmLCD, static(nil)},
	{"pid_alarm", raysharp.EndpointAlarmPID, static(nil)},
	{"sod_alarm", raysharp.EndpointAlarmSOD, static(nil)},
}

// aiEndpoints cover the AI feature matrix; absent on non-AI models.
var aiEndpoints = []endpointSpec{
	{"ai_schedule", raysharp.EndpointAISchedule, static(nil)},
	{"ai_process_alarm", raysharp.EndpointAIProcessAlarm, static(nil)},
	{"ai_model", raysharp.EndpointAIModel, static(nil)},
	{"ai_fd_setup", raysharp.EndpointAIFDSetup, channelConfig},
	{"ai_pvd_setup", raysharp.EndpointAIPVDSetup, channelConfig},
	{"ai_lcd_setup", raysharp.EndpointAILCDSetup, channelConfig},
	{"ai_intrusion_setup", raysharp.EndpointAIIntrusionSetup, channelConfig},
	{"ai_lpd_setup", raysharp.EndpointAILPDSetup, channelConfig},
	{"vhd_log_count", raysharp.EndpointAIVhdCount, vhdCountPayload},
}

// Coordinator refreshes a full device-state snapshot on a fixed interval.
// Consumers read the last complete snapshot via Data; a refresh replaces it
// atomically, so readers never observe a half-updated cycle.
type Coordinator struct {
	client   DeviceClient
	interval time.Duration

	// onAuthError fires when a cycle aborts on an authentication failure,
	// letting the owner reset long-poll subscriptions.
	onAuthError func(error)

	mu   sync.RWMutex
	data map[string]map[string]any

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewCoordinator(client DeviceClient, interval time.Duration, onAuthError func(error)) *Coordinator {
	return &Coordinator{
		client:      client,
		interval:    interval,
		onAuthError: onAuthError,
		data:        map[string]map[string]any{},
		stopChan:    make(chan struct{}),
	}
}

// Data returns the last complete snapshot. The map is replaced wholesale on
// refresh, never mutated, so callers may read it without copying.
func (c *Coordinator) Data() map[string]map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// Get returns one endpoint's data from the last snapshot.
func (c *Coordinator) Get(key string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key]
}

func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

func (c *Coordinator) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *Coordinator) runLoop() {
	defer c.wg.Done()

	// First cycle runs immediately so consumers have data at startup.
	if err := c.Refresh(context.Background()); err != nil {
		log.Printf("[ERROR] coordinator: initial refresh: %v", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if err := c.Refresh(context.Background()); err != nil {
				log.Printf("[ERROR] coordinator: refresh: %v", err)
			}
		}
	}
}

// Refresh runs one full cycle: heartbeat, then every endpoint tier. Endpoint
// failures degrade to partial data; an authentication failure aborts the
// cycle since every remaining call would fail the same way.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.client.Authenticated() {
		if _, err := c.client.Login(ctx); err != nil {
			c.noteAuthError(err)
			metrics.PollCycles.WithLabelValues("auth_error").Inc()
			return err
		}
	}

	// Heartbeat keeps the session warm; failure is non-fatal, the fetches
	// below re-authenticate on their own.
	c.client.Heartbeat(ctx)

	next := make(map[string]map[string]any, len(coreEndpoints)+len(alarmConfigEndpoints)+len(aiEndpoints))
	var (
		nextMu  sync.Mutex
		authErr error
	)

	// Each tier fans out concurrently and is gathered before the next tier
	// starts. An auth failure aborts the cycle once its tier has drained.
	for _, tier := range []struct {
		specs []endpointSpec
		warn  bool
	}{
		{coreEndpoints, true},
		{alarmConfigEndpoints, false},
		{aiEndpoints, false},
	} {
		var wg sync.WaitGroup
		for _, spec := range tier.specs {
			wg.Add(1)
			go func(spec endpointSpec, warn bool) {
				defer wg.Done()
				data, err := c.fetch(ctx, spec)
				nextMu.Lock()
				defer nextMu.Unlock()
				if err != nil {
					if raysharp.IsAuthError(err) {
						if authErr == nil {
							authErr = err
						}
						return
					}
					if warn {
						log.Printf("[ERROR] coordinator: fetch %s: %v", spec.key, err)
					} else {
						log.Printf("[DEBUG] coordinator: fetch %s: %v", spec.key, err)
					}
					return
				}
				next[spec.key] = data
			}(spec, tier.warn)
		}
		wg.Wait()
		if authErr != nil {
			c.noteAuthError(authErr)
			metrics.PollCycles.WithLabelValues("auth_error").Inc()
			return authErr
		}
	}

	c.mu.Lock()
	c.data = next
	c.mu.Unlock()
	metrics.PollCycles.WithLabelValues("ok").Inc()
	return nil
}

func (c *Coordinator) fetch(ctx context.Context, spec endpointSpec) (map[string]any, error) {
	start := time.Now()
	resp, err := c.client.Call(ctx, spec.endpoint, spec.payload())
	metrics.DeviceCallDuration.WithLabelValues(spec.endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DeviceCalls.WithLabelValues(spec.endpoint, "fail").Inc()
		return nil, err
	}
	metrics.DeviceCalls.WithLabelValues(spec.endpoint, "ok").Inc()
	return raysharp.ExtractData(resp), nil
}

func (c *Coordinator) noteAuthError(err error) {
	metrics.AuthFailures.Inc()
	if c.onAuthError != nil {
		c.onAuthError(err)
	}
}
