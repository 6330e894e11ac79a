package poll

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/bus"
	"github.com/technosupport/ts-nvrbridge/internal/normalize"
)

func newTestIngestor(t *testing.T) (*Ingestor, *[]normalize.Event, *[]normalize.Snapshot) {
	t.Helper()
	b := bus.New()
	var events []normalize.Event
	var snaps []normalize.Snapshot
	b.SubscribeAlarms(func(evt normalize.Event) { events = append(events, evt) })
	b.SubscribeSnapshots(func(s normalize.Snapshot) { snaps = append(snaps, s) })
	return NewIngestor("192.0.2.1", b, NewEventDedup(128, 30*time.Second)), &events, &snaps
}

func decodePayload(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestIngestAlarmDedupSpansDeliveries(t *testing.T) {
	in, events, _ := newTestIngestor(t)

	payload := decodePayload(t, `{
		"data": {"alarm_list": [
			{"time": "2026-08-25 09:00:00", "channel_alarm": [
				{"channel": "CH3", "int_alarm": {"int_subtype": "pd_vd"}}
			]}
		]}
	}`)

	// Same event arriving via long-poll and webhook inside the window: one
	// publication.
	in.IngestAlarmPayload(payload)
	in.IngestWebhook(payload)

	if len(*events) != 1 {
		t.Fatalf("published %d events, want 1", len(*events))
	}
	if (*events)[0].AlarmType != normalize.TypePerson || (*events)[0].Channel != 3 {
		t.Errorf("event = %+v", (*events)[0])
	}
}

func TestIngestSnapshotDedupBySnapID(t *testing.T) {
	in, _, snaps := newTestIngestor(t)

	payload := decodePayload(t, `{
		"data": {"ai_snap_picture": {"PlateInfo": [
			{"Chn": 1, "Id": "AB123CD", "SnapId": "900", "PlateImg": "aW1n"}
		]}}
	}`)

	in.IngestSnapshotPayload(payload)
	in.IngestSnapshotPayload(payload)

	if len(*snaps) != 1 {
		t.Fatalf("published %d snapshots, want 1", len(*snaps))
	}
	if (*snaps)[0].PlateNumber != "AB123CD" {
		t.Errorf("snapshot = %+v", (*snaps)[0])
	}
}

func TestIngestWebhookRunsBothParsers(t *testing.T) {
	in, events, snaps := newTestIngestor(t)

	payload := decodePayload(t, `{
		"data": {
			"alarm_list": [
				{"time": "2026-08-25 09:00:00", "channel_alarm": [
					{"channel": "CH2", "int_alarm": {"int_subtype": "lcd"}}
				]}
			],
			"ai_snap_picture": {"FaceInfo": [
				{"Chn": 2, "Id": 5, "SnapId": "901", "Image2": "ZmFjZQ=="}
			]}
		}
	}`)
	in.IngestWebhook(payload)

	if len(*events) != 1 {
		t.Errorf("published %d events, want 1", len(*events))
	}
	if len(*snaps) != 1 {
		t.Errorf("published %d snapshots, want 1", len(*snaps))
	}
}

func TestIngestUnrecognizedPayloadFallsBack(t *testing.T) {
	in, events, _ := newTestIngestor(t)

	in.IngestWebhook("plain string delivery")

	if len(*events) != 1 {
		t.Fatalf("published %d events, want 1 diagnostic event", len(*events))
	}
	evt := (*events)[0]
	if evt.AlarmType != normalize.TypeMotion || evt.Channel != 0 {
		t.Errorf("fallback event = %+v", evt)
	}
	if evt.Extra["raw"] == nil {
		t.Error("fallback event must carry the raw payload")
	}
}
