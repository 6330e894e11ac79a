package poll

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EventDedup suppresses duplicate events inside a sliding time window. The
// device re-reports an ongoing detection on every long-poll round-trip, and
// the webhook and long-poll paths can both deliver the same event.
type EventDedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewEventDedup(maxKeys int, ttl time.Duration) *EventDedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &EventDedup{cache: c, ttl: ttl}
}

// IsDuplicate reports whether key was seen inside the window, and records it
// either way.
func (d *EventDedup) IsDuplicate(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}

// BuildDedupKey identifies an event by source device, channel, type and a
// 1-second timestamp bucket, absorbing micro-timing differences between the
// webhook and long-poll copies of the same detection.
func BuildDedupKey(host string, channel int, alarmType string, at time.Time) string {
	ts := at.Truncate(time.Second).Unix()
	return fmt.Sprintf("%s|%d|%s|%d", host, channel, alarmType, ts)
}
