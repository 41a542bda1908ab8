// Package memory keeps scan lifecycle events in process, for development
// runs without Pub/Sub and for tests.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// PublishedMessage is one recorded event.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher records every event in publish order.
type Publisher struct {
	mu  sync.RWMutex
	log []PublishedMessage
}

var _ monitor.Publisher = (*Publisher)(nil)

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event. IDs are the 1-based position in the log.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "memory-" + strconv.Itoa(len(p.log)+1)
	p.log = append(p.log, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of the log.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.log...)
}

// ByTopic returns the payloads published to topic, oldest first.
func (p *Publisher) ByTopic(topic string) []any {
	var out []any
	for _, m := range p.Messages() {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}
