// Package realtime fans graph change notifications out to connected stream clients.
package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	// EventGraphChanged is published after ingestion mutates nodes, links or events.
	EventGraphChanged = "graph-change"
	// EventMediaAttached is published after enrichment attaches media to an event.
	EventMediaAttached = "event-media"
	// EventHeartbeat keeps idle streams open.
	EventHeartbeat = "heartbeat"

	defaultBufferSize = 16
)

// Message is one notification. Empty id slices are omitted on the wire.
type Message struct {
	EventType string    `json:"-"`
	NodeIDs   []string  `json:"nodeIds,omitempty"`
	EventIDs  []string  `json:"eventIds,omitempty"`
	MediaIDs  []string  `json:"mediaIds,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher accepts notifications.
type Publisher interface {
	Publish(message Message)
}

// Dispatcher broadcasts every message to every live subscriber. Slow subscribers drop messages
// instead of blocking publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Message
	nextID      int64
	bufferSize  int
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]chan Message),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a stream that lives until ctx is done or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Message, func()) {
	stream := make(chan Message, d.bufferSize)
	id := d.register(stream)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

func (d *Dispatcher) Publish(message Message) {
	if message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, stream := range d.subscribers {
		select {
		case stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *Dispatcher) register(stream chan Message) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subscribers[d.nextID] = stream
	return d.nextID
}

func (d *Dispatcher) unregister(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, id)
}

// Discard drops every message; used when no stream endpoint is mounted.
type Discard struct{}

func (Discard) Publish(Message) {}
