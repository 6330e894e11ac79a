package poll

import (
	"log"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/bus"
	"github.com/technosupport/ts-nvrbridge/internal/metrics"
	"github.com/technosupport/ts-nvrbridge/internal/normalize"
)

// Ingestor normalizes raw device payloads, suppresses duplicates and
// publishes the survivors on the bus. Both delivery paths (EventPush webhook
// and the long-poll loop) funnel through here so duplicate suppression spans
// them.
type Ingestor struct {
	host  string
	bus   *bus.Bus
	dedup *EventDedup
}

func NewIngestor(host string, b *bus.Bus, dedup *EventDedup) *Ingestor {
	return &Ingestor{host: host, bus: b, dedup: dedup}
}

// IngestAlarmPayload parses and publishes the alarm events in payload.
func (in *Ingestor) IngestAlarmPayload(payload map[string]any) {
	in.publishEvents(normalize.ParseAlarmPayload(payload))
}

// IngestSnapshotPayload parses and publishes the AI snapshots in payload.
func (in *Ingestor) IngestSnapshotPayload(payload map[string]any) {
	in.publishSnapshots(normalize.ParseSnapshotPayload(payload))
}

// IngestWebhook handles an EventPush delivery. Unlike the long-poll path the
// payload shape is not pre-screened, so both parsers run unconditionally.
func (in *Ingestor) IngestWebhook(payload any) {
	in.publishEvents(normalize.ParseAlarmPayload(payload))
	in.publishSnapshots(normalize.ParseSnapshotPayload(payload))
}

func (in *Ingestor) publishEvents(events []normalize.Event) {
	for _, evt := range events {
		key := BuildDedupKey(in.host, evt.Channel, evt.AlarmType, evt.ReceivedAt)
		if in.dedup.IsDuplicate(key) {
			metrics.EventsDeduped.Inc()
			continue
		}
		log.Printf("[DEBUG] ingest: alarm %s channel=%d", evt.AlarmType, evt.Channel)
		metrics.EventsPublished.WithLabelValues(evt.AlarmType).Inc()
		in.bus.PublishAlarm(evt)
	}
}

// Snapshots are keyed by SnapId when present, falling back to the timestamp
// bucket used for alarms.
func (in *Ingestor) publishSnapshots(snaps []normalize.Snapshot) {
	for _, snap := range snaps {
		key := in.host + "|snap|" + snap.SnapID
		if snap.SnapID == "" {
			key = BuildDedupKey(in.host, snap.Channel, "snap_"+snap.AlarmType, time.Now())
		}
		if in.dedup.IsDuplicate(key) {
			metrics.EventsDeduped.Inc()
			continue
		}
		log.Printf("[DEBUG] ingest: snapshot %s channel=%d snap_id=%s", snap.AlarmType, snap.Channel, snap.SnapID)
		metrics.SnapshotsPublished.WithLabelValues(snap.AlarmType).Inc()
		in.bus.PublishSnapshot(snap)
	}
}
