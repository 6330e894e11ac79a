package normalize

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// alarmStrategy is one tagged parse attempt. It reports whether it matched;
// strategies are tried in priority order and the first match wins.
type alarmStrategy func(data map[string]any) ([]Event, bool)

var alarmStrategies = []alarmStrategy{
	parseAlarmList,
	parseEventList,
	parseFlatEvent,
}

// ParseAlarmPayload converts an arbitrary decoded JSON payload into alarm
// events. Recognized shapes, in priority order:
//
//  1. Native EventPush alarm_list:
//     {"data":{"alarm_list":[{"time":..., "channel_alarm":[
//     {"channel":"CH17","int_alarm":{"int_subtype":"pd_vd"}}]}]}}
//  2. List-based formats under "events" / "alarms" / "alarm".
//  3. A flat single-event dict carrying a recognized alarm key.
//
// Anything else yields a single diagnostic motion event on channel 0
// carrying the raw payload.
func ParseAlarmPayload(payload any) []Event {
	m, ok := payload.(map[string]any)
	if !ok {
		return []Event{fallbackEvent(map[string]any{"raw": fmt.Sprintf("%v", payload)})}
	}
	data := asMap(m["data"])
	if data == nil {
		data = m
	}
	for _, strategy := range alarmStrategies {
		if events, matched := strategy(data); matched {
			return events
		}
	}
	return []Event{fallbackEvent(map[string]any{"raw": data})}
}

func newEvent(alarmType string, channel int) Event {
	return Event{
		ID:         uuid.New(),
		AlarmType:  alarmType,
		Channel:    channel,
		ReceivedAt: time.Now(),
	}
}

func fallbackEvent(extra map[string]any) Event {
	evt := newEvent(TypeMotion, 0)
	evt.Extra = extra
	return evt
}

func parseAlarmList(data map[string]any) ([]Event, bool) {
	alarmList, ok := data["alarm_list"].([]any)
	if !ok {
		return nil, false
	}
	var events []Event
	for _, raw := range alarmList {
		entry := asMap(raw)
		if entry == nil {
			continue
		}
		timestamp := asString(entry["time"])
		for _, rawCh := range asList(entry["channel_alarm"]) {
			chAlarm := asMap(rawCh)
			if chAlarm == nil {
				continue
			}
			channel := ChannelNum(asString(chAlarm["channel"]))
			rawType := "motion"
			if intAlarm := asMap(chAlarm["int_alarm"]); intAlarm != nil {
				if sub := asString(intAlarm["int_subtype"]); sub != "" {
					rawType = sub
				}
			}
			evt := newEvent(AlarmType(rawType), channel)
			evt.Timestamp = timestamp
			events = append(events, evt)
		}
	}
	// An empty alarm_list falls through to the next strategy, matching how
	// devices wrap unrelated payloads in the same envelope.
	return events, len(events) > 0
}

func parseEventList(data map[string]any) ([]Event, bool) {
	var list []any
	for _, key := range []string{"events", "alarms", "alarm"} {
		if l, ok := data[key].([]any); ok {
			list = l
			break
		}
	}
	if len(list) == 0 {
		return nil, false
	}
	var events []Event
	for _, raw := range list {
		if item := asMap(raw); item != nil {
			events = append(events, parseSingleEvent(item))
		}
	}
	return events, true
}

// Keys whose presence marks a flat payload as a single alarm event.
var flatAlarmKeys = []string{"alarm_type", "type", "AlarmType", "event_type", "channel", "Chn"}

func parseFlatEvent(data map[string]any) ([]Event, bool) {
	for _, key := range flatAlarmKeys {
		if _, ok := data[key]; ok {
			return []Event{parseSingleEvent(data)}, true
		}
	}
	return nil, false
}

// Extra vendor fields carried through on single events.
var singleEventExtras = []string{"details", "object_type", "zone", "confidence", "plate_number", "face_id"}

func parseSingleEvent(data map[string]any) Event {
	rawType := "motion"
	for _, key := range []string{"alarm_type", "type", "AlarmType", "event_type"} {
		if s := asString(data[key]); s != "" {
			rawType = s
			break
		}
	}

	var channelRaw any
	for _, key := range []string{"channel", "Chn", "ch"} {
		if v, ok := data[key]; ok && v != nil {
			channelRaw = v
			break
		}
	}

	evt := newEvent(AlarmType(rawType), ChannelNum(asString(channelRaw)))
	if ts := asString(data["timestamp"]); ts != "" {
		evt.Timestamp = ts
	} else if ts := asString(data["time"]); ts != "" {
		evt.Timestamp = ts
	}
	for _, key := range singleEventExtras {
		if v, ok := data[key]; ok && v != nil {
			if evt.Extra == nil {
				evt.Extra = make(map[string]any)
			}
			evt.Extra[key] = v
		}
	}
	return evt
}
