// Package memory records published events in process, for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// Message is one recorded publish call.
type Message struct {
	Topic   string
	Payload any
}

// Publisher keeps every message. Setting Err makes subsequent publishes fail.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err. A nil err clears it.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// Events returns the payloads that are opportunity events.
func (p *Publisher) Events() []crawler.OpportunityEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []crawler.OpportunityEvent
	for _, m := range p.messages {
		if ev, ok := m.Payload.(crawler.OpportunityEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}
