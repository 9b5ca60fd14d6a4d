// Package pubsub announces finished crawls on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/news-engagement-crawler/internal/publisher"
)

// Publisher publishes JSON notifications and caches one topic handle per
// name. Messages that carry an ordering key are published with message
// ordering enabled.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher for client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Publish sends payload to topic and waits for the server-assigned ID. The
// caller's trace context travels in the message attributes.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub client is not configured")
	}
	if topic == "" {
		return "", errors.New("topic is required")
	}
	encoded, err := publisher.Encode(payload)
	if err != nil {
		return "", err
	}
	otel.GetTextMapPropagator().Inject(ctx, attributeCarrier(encoded.Attributes))

	t := p.topic(topic)
	id, err := t.Publish(ctx, &pubsub.Message{
		Data:        encoded.Data,
		Attributes:  encoded.Attributes,
		OrderingKey: encoded.OrderingKey,
	}).Get(ctx)
	if err != nil {
		if encoded.OrderingKey != "" {
			// A failed ordered publish pauses the key until resumed.
			t.ResumePublish(encoded.OrderingKey)
		}
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		t.EnableMessageOrdering = true
		p.topics[name] = t
	}
	return t
}

// Close flushes and stops every topic handle used so far.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}

// attributeCarrier adapts message attributes to propagation.TextMapCarrier.
type attributeCarrier map[string]string

func (c attributeCarrier) Get(key string) string { return c[key] }

func (c attributeCarrier) Set(key, value string) { c[key] = value }

func (c attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
