// Package memory contains an in-process publisher used when Pub/Sub is off
// and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultRetain is how many messages a Publisher keeps for inspection.
const DefaultRetain = 64

// Publisher stores the most recent published payloads.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	total    int
	retain   int
	logger   *zap.Logger
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// New returns a memory Publisher that keeps the last DefaultRetain messages.
func New() *Publisher {
	return NewWithLogger(DefaultRetain, zap.NewNop())
}

// NewWithLogger returns a Publisher retaining up to retain messages that logs
// every publish at info level.
func NewWithLogger(retain int, logger *zap.Logger) *Publisher {
	if retain <= 0 {
		retain = DefaultRetain
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{retain: retain, logger: logger}
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	p.total++
	id := fmt.Sprintf("memory-%d", p.total)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	if over := len(p.messages) - p.retain; over > 0 {
		p.messages = append([]PublishedMessage(nil), p.messages[over:]...)
	}
	p.mu.Unlock()

	p.logger.Info("event published", zap.String("topic", topic), zap.String("message_id", id))
	return id, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
