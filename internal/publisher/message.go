// Package publisher holds the message encoding shared by the crawl
// notification publishers.
package publisher

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Attributed payloads contribute message attributes for subscription filters.
type Attributed interface {
	Attributes() map[string]string
}

// Ordered payloads name the key their messages are delivered in order under.
type Ordered interface {
	OrderingKey() string
}

// Message is an encoded payload ready for a broker.
type Message struct {
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
}

// Encode marshals payload as JSON and collects its attributes and ordering key.
func Encode(payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{Data: data, Attributes: map[string]string{}}
	if a, ok := payload.(Attributed); ok {
		maps.Copy(msg.Attributes, a.Attributes())
	}
	if o, ok := payload.(Ordered); ok {
		msg.OrderingKey = o.OrderingKey()
	}
	return msg, nil
}
