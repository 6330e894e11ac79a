// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_poll_cycles_total",
		Help: "Completed coordinator refresh cycles, by result.",
	}, []string{"result"})

	DeviceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_device_calls_total",
		Help: "Device API calls, by endpoint and result.",
	}, []string{"endpoint", "result"})

	DeviceCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nvrbridge_device_call_duration_seconds",
		Help:    "Device API call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_events_published_total",
		Help: "Normalized events published on the bus, by alarm type.",
	}, []string{"alarm_type"})

	EventsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvrbridge_events_deduped_total",
		Help: "Events dropped by the duplicate-suppression window.",
	})

	SnapshotsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_snapshots_published_total",
		Help: "Normalized AI snapshots published on the bus, by alarm type.",
	}, []string{"alarm_type"})

	LongPollFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvrbridge_longpoll_consecutive_failures",
		Help: "Consecutive Event Check failures in the long-poll loop.",
	})

	LongPollDelay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvrbridge_longpoll_retry_delay_seconds",
		Help: "Current long-poll backoff delay.",
	})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvrbridge_auth_failures_total",
		Help: "Authentication failures against the device.",
	})

	TrackerEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvrbridge_tracker_entries",
		Help: "Entries held by the detection trackers.",
	}, []string{"tracker"})

	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_webhook_requests_total",
		Help: "EventPush webhook deliveries, by result.",
	}, []string{"result"})
)
