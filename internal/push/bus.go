// Package push delivers invalidation events to connected dashboard clients.
//
// Events are published on a Bus so every service instance sees them, and
// each instance delivers to the connections it holds. Delivery is best
// effort; clients resync over REST when they (re)connect.
package push

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/talentgrid/entitlements/internal/model"
)

// Bus fans events out across service instances.
type Bus interface {
	// Publish sends an event to every subscriber.
	Publish(ctx context.Context, event model.Event) error
	// Subscribe calls handler for each event until ctx is cancelled.
	Subscribe(ctx context.Context, handler func(model.Event)) error
	// Close releases the bus connection.
	Close() error
}

// LocalBus delivers events within the process. Used for single-instance
// deployments and tests.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[int]func(model.Event)
	nextID   int
}

// NewLocalBus creates a LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(model.Event))}
}

func (b *LocalBus) Publish(ctx context.Context, event model.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, handler func(model.Event)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
	return nil
}

func (b *LocalBus) Close() error { return nil }

func marshalEvent(event model.Event) ([]byte, error) {
	return json.Marshal(event)
}

func unmarshalEvent(data []byte) (model.Event, error) {
	var event model.Event
	err := json.Unmarshal(data, &event)
	return event, err
}
