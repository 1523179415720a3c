// Package pubsub implements a Google Cloud Pub/Sub publisher for opportunity
// events.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// publishFunc sends one message and waits for the server-assigned ID.
type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher publishes JSON payloads, resolving topics lazily by name.
type Publisher struct {
	mu      sync.Mutex
	client  *pubsub.Client
	topics  map[string]*pubsub.Topic
	resolve func(topic string) publishFunc
}

// New creates a Publisher backed by client.
func New(client *pubsub.Client) *Publisher {
	p := &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
	p.resolve = p.topicPublisher
	return p
}

func newPublisher(resolve func(topic string) publishFunc) *Publisher {
	return &Publisher{topics: make(map[string]*pubsub.Topic), resolve: resolve}
}

func (p *Publisher) topicPublisher(name string) publishFunc {
	p.mu.Lock()
	topic, ok := p.topics[name]
	if !ok {
		topic = p.client.Topic(name)
		p.topics[name] = topic
	}
	p.mu.Unlock()
	return func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return topic.Publish(ctx, msg).Get(ctx)
	}
}

// Publish marshals the payload to JSON and publishes it to topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is required")
	}
	if p.resolve == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	id, err := p.resolve(topic)(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes and stops every topic used so far.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, topic := range p.topics {
		topic.Stop()
	}
}
