// Package bus fans normalized events and snapshots out to in-process
// consumers and, optionally, to NATS.
package bus

import (
	"log"
	"sync"

	"github.com/technosupport/ts-nvrbridge/internal/normalize"
)

// AlarmHandler consumes a normalized alarm event.
type AlarmHandler func(evt normalize.Event)

// SnapshotHandler consumes a normalized AI snapshot.
type SnapshotHandler func(snap normalize.Snapshot)

// Bus is a synchronous in-process dispatcher. Handlers run on the
// publisher's goroutine in subscription order; a panicking handler is
// recovered and logged so one consumer cannot take down the event loop.
type Bus struct {
	mu        sync.RWMutex
	alarms    []AlarmHandler
	snapshots []SnapshotHandler
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) SubscribeAlarms(h AlarmHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alarms = append(b.alarms, h)
}

func (b *Bus) SubscribeSnapshots(h SnapshotHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, h)
}

func (b *Bus) PublishAlarm(evt normalize.Event) {
	b.mu.RLock()
	handlers := b.alarms
	b.mu.RUnlock()
	for _, h := range handlers {
		safeDispatch(func() { h(evt) })
	}
}

func (b *Bus) PublishSnapshot(snap normalize.Snapshot) {
	b.mu.RLock()
	handlers := b.snapshots
	b.mu.RUnlock()
	for _, h := range handlers {
		safeDispatch(func() { h(snap) })
	}
}

func safeDispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] bus: handler panicked: %v", r)
		}
	}()
	fn()
}
