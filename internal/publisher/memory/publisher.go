// Package memory records crawl notifications in process, for development
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/news-engagement-crawler/internal/publisher"
)

// Published is one recorded notification.
type Published struct {
	ID    string
	Topic string
	publisher.Message
}

// Publisher keeps every notification in publish order.
type Publisher struct {
	mu   sync.RWMutex
	sent []Published
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload the way the Pub/Sub publisher does and records it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	msg, err := publisher.Encode(payload)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.sent)+1)
	p.sent = append(p.sent, Published{ID: id, Topic: topic, Message: msg})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Published {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.sent)
}

// Topic returns the notifications sent to topic.
func (p *Publisher) Topic(topic string) []Published {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Published
	for _, m := range p.sent {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
