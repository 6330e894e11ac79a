package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-nvrbridge/internal/normalize"
)

const publishRetries = 3

// Publisher mirrors bus traffic onto NATS subjects so external consumers
// (automation rules, recorders, dashboards) can react to detections.
// Subjects are <prefix>.alarm and <prefix>.snapshot. Snapshot messages are
// published without the image payload; consumers fetch images over the
// HTTP API when they need them.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher connects to NATS and attaches the publisher to the bus.
func NewPublisher(url, prefix string, b *Bus) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p := &Publisher{nc: nc, prefix: prefix}
	b.SubscribeAlarms(p.publishAlarm)
	b.SubscribeSnapshots(p.publishSnapshot)
	return p, nil
}

func (p *Publisher) publishAlarm(evt normalize.Event) {
	p.publish(p.prefix+".alarm", evt)
}

func (p *Publisher) publishSnapshot(snap normalize.Snapshot) {
	p.publish(p.prefix+".snapshot", snap.WithoutImage())
}

func (p *Publisher) publish(subject string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("[ERROR] bus: marshal for %s: %v", subject, err)
		return
	}
	for i := 0; i < publishRetries; i++ {
		if err = p.nc.Publish(subject, payload); err == nil {
			return
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	log.Printf("[ERROR] bus: publish to %s failed after %d attempts: %v", subject, publishRetries, err)
}

// Close drains pending messages and shuts the connection down.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
