package events

import (
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events; catchup recovers them.
const subscriberBuffer = 64

// Bus is the in-process event dispatcher. Publishers hand it serialized
// payloads per channel; it fans them out to attached sinks (the WebSocket
// connection manager) and to Go-channel subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan []byte
	nextID int
	sinks  []func(channel string, payload []byte)
	closed bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan []byte)}
}

// AttachSink registers a fan-out function invoked synchronously for every
// published event. Sinks must not block.
func (b *Bus) AttachSink(fn func(channel string, payload []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, fn)
}

// Subscribe returns a channel receiving payloads published to the named
// channel, and a cancel function. Slow subscribers drop events rather than
// blocking publishers.
func (b *Bus) Subscribe(channel string) (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, subscriberBuffer)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan []byte)
	}
	b.subs[channel][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[channel]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
				if len(subs) == 0 {
					delete(b.subs, channel)
				}
			}
		}
	}
	return ch, cancel
}

// Publish dispatches a payload to every sink and subscriber of the channel.
func (b *Bus) Publish(channel string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sink := range b.sinks {
		sink(channel, payload)
	}
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			slog.Debug("Event bus subscriber lagging, dropping event", "channel", channel)
		}
	}
}

// Close stops dispatch and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for channel, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, channel)
	}
}
