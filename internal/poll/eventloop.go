package poll

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/metrics"
	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
)

// EventSink consumes the raw payloads the long-poll loop pulls off the
// device.
type EventSink interface {
	IngestAlarmPayload(payload map[string]any)
	IngestSnapshotPayload(payload map[string]any)
}

// LoopConfig tunes the long-poll cadence. Zero values take the defaults;
// tests shrink them.
type LoopConfig struct {
	// EmptyDelay paces polls that returned no data.
	EmptyDelay time.Duration
	// PaceDelay spaces polls after a delivery, letting the device batch.
	PaceDelay time.Duration
	// RetryDelay is the initial backoff after a transient failure; it grows
	// by 1.5x per consecutive failure up to MaxDelay.
	RetryDelay time.Duration
	MaxDelay   time.Duration
	// FailThreshold is the consecutive-failure count at which the
	// subscription tokens are presumed stale and dropped.
	FailThreshold int
}

func (c *LoopConfig) applyDefaults() {
	if c.EmptyDelay <= 0 {
		c.EmptyDelay = time.Second
	}
	if c.PaceDelay <= 0 {
		c.PaceDelay = 2 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = 5
	}
}

// EventLoop runs the Event Check long-poll against one device. The device
// hands out opaque subscription tokens (reader_id, sequence, lap_number)
// that must be echoed back; the loop updates whichever subset each response
// carries and drops them all when the subscription goes stale.
type EventLoop struct {
	client DeviceClient
	sink   EventSink
	cfg    LoopConfig

	mu  sync.Mutex
	sub raysharp.Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEventLoop(client DeviceClient, sink EventSink, cfg LoopConfig) *EventLoop {
	cfg.applyDefaults()
	return &EventLoop{client: client, sink: sink, cfg: cfg}
}

// ResetSubscription drops the long-poll tokens; the next poll starts a fresh
// subscription. Called when authentication is lost, since tokens belong to
// the device session.
func (l *EventLoop) ResetSubscription() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sub.Reset()
}

func (l *EventLoop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.runLoop(ctx)
}

func (l *EventLoop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *EventLoop) runLoop(ctx context.Context) {
	defer l.wg.Done()

	consecutive := 0
	delay := l.cfg.RetryDelay

	for ctx.Err() == nil {
		l.mu.Lock()
		sub := l.sub
		l.mu.Unlock()

		resp, err := l.client.EventCheck(ctx, &sub)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if raysharp.IsAuthError(err) {
				log.Printf("[ERROR] eventloop: authentication lost, resetting subscription: %v", err)
				metrics.AuthFailures.Inc()
				l.ResetSubscription()
				if !sleepCtx(ctx, l.cfg.RetryDelay) {
					return
				}
				continue
			}

			consecutive++
			metrics.LongPollFailures.Set(float64(consecutive))
			if consecutive >= l.cfg.FailThreshold {
				log.Printf("[ERROR] eventloop: %d consecutive failures, dropping subscription tokens", consecutive)
				l.ResetSubscription()
			} else {
				log.Printf("[DEBUG] eventloop: poll failed (%d consecutive): %v", consecutive, err)
			}
			metrics.LongPollDelay.Set(delay.Seconds())
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = minDuration(delay*3/2, l.cfg.MaxDelay)
			continue
		}

		consecutive = 0
		delay = l.cfg.RetryDelay
		metrics.LongPollFailures.Set(0)
		metrics.LongPollDelay.Set(0)

		data := raysharp.ExtractData(resp)
		if len(data) == 0 {
			// Nothing pending; tokens stay valid.
			if !sleepCtx(ctx, l.cfg.EmptyDelay) {
				return
			}
			continue
		}

		l.updateSubscription(data)

		if list, ok := data["alarm_list"].([]any); ok && len(list) > 0 {
			l.sink.IngestAlarmPayload(data)
		}
		if snap, ok := data["ai_snap_picture"].(map[string]any); ok && len(snap) > 0 {
			l.sink.IngestSnapshotPayload(data)
		}

		if !sleepCtx(ctx, l.cfg.PaceDelay) {
			return
		}
	}
}

// updateSubscription stores whichever tokens this response carries, leaving
// absent ones untouched.
func (l *EventLoop) updateSubscription(data map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := data["reader_id"]; ok && v != nil {
		l.sub.ReaderID = v
	}
	if v, ok := data["sequence"]; ok && v != nil {
		l.sub.Sequence = v
	}
	if v, ok := data["lap_number"]; ok && v != nil {
		l.sub.LapNumber = v
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first. Reports whether the
// full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
