package events

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher delivers lifecycle events to external collaborators. Publish
// failures never block or revert a transition; callers log and move on.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
	Close() error
}

// LogPublisher is the broker-less fallback: events land in the
// structured log instead of an exchange.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, key string, payload any) error {
	slog.Info("event published", "key", key, "payload", payload)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder captures published events in memory. Tests and the operator
// debug surface use it to assert on emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one captured event.
type Recorded struct {
	Key     string
	Payload any
}

func (r *Recorder) Publish(_ context.Context, key string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Key: key, Payload: payload})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Keys returns the routing keys of all captured events in order.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, len(r.events))
	for i, e := range r.events {
		keys[i] = e.Key
	}
	return keys
}

// Count returns how many events with the given key were captured.
func (r *Recorder) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Key == key {
			n++
		}
	}
	return n
}

// Events returns a copy of everything captured.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}
