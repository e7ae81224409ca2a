// Package events is the in-process event bus between the engine router and
// the real-time distribution layer. Publication is non-blocking for the
// producer: a subscriber whose buffer is full loses the event and its
// overflow counter is incremented. Delivery order per subscriber matches
// publish order for the events it did receive.
package events

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Channel name prefixes. Symbol-scoped channels are "pool:{symbol}" and
// "orderbook:{symbol}"; "user:{id}" is scoped to one authenticated user;
// "trade" is the firehose and "system" carries operational alerts.
const (
	ChannelPoolPrefix      = "pool:"
	ChannelOrderbookPrefix = "orderbook:"
	ChannelUserPrefix      = "user:"
	ChannelTrade           = "trade"
	ChannelSystem          = "system"
)

// Event is one tagged bus message.
type Event struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol,omitempty"`
	Data    any    `json:"data"`
}

// PoolChannel returns the pool channel name for a symbol.
func PoolChannel(symbol string) string { return ChannelPoolPrefix + symbol }

// OrderbookChannel returns the orderbook channel name for a symbol.
func OrderbookChannel(symbol string) string { return ChannelOrderbookPrefix + symbol }

// UserChannel returns the private channel name for a user.
func UserChannel(userID string) string { return ChannelUserPrefix + userID }

// IsUserChannel reports whether name is a private user channel.
func IsUserChannel(name string) bool { return strings.HasPrefix(name, ChannelUserPrefix) }

// Subscription is one consumer's bounded feed.
type Subscription struct {
	id       uint64
	ch       chan Event
	overflow atomic.Uint64
}

// Events returns the receive channel. It is closed on Unsubscribe and on
// bus Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Overflow returns the number of events dropped because the buffer was full.
func (s *Subscription) Overflow() uint64 { return s.overflow.Load() }

// Bus is a many-producer many-consumer broadcast bus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// DefaultBuffer is the subscription buffer used when none is given.
const DefaultBuffer = 256

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a consumer with the given buffer capacity.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan Event, buffer)}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the consumer and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber that has buffer room and
// returns immediately. Saturated subscribers record an overflow.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.overflow.Add(1)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
