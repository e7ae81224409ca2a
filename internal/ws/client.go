package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vegaexchange/vegad/internal/events"
)

const (
	// writeWait is the per-write deadline; exceeding it closes the connection.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 54 * time.Second
	// maxFrameSize bounds inbound control frames.
	maxFrameSize = 4 * 1024
	// queueCapacity is the bounded outbound queue per client.
	queueCapacity = 256

	// inboundRate and inboundBurst bound client control frames per second.
	inboundRate  = 20
	inboundBurst = 40
)

// clientMessage is an inbound subscribe/unsubscribe frame.
type clientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol,omitempty"`
}

// Client is one WebSocket connection: its auth identity, subscription set,
// and bounded outbound queue. The writer goroutine drains the queue in
// order; when the queue is full the oldest pending event on the same
// channel is dropped first (bounded-latest semantics).
type Client struct {
	id     string
	userID string // empty when unauthenticated
	conn   *websocket.Conn
	hub    *Hub

	limiter *rate.Limiter

	mu            sync.Mutex
	subscriptions map[string]struct{}
	queue         []events.Event
	overflow      uint64
	closed        bool

	wake chan struct{}
	done chan struct{}
}

func newClient(id, userID string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:            id,
		userID:        userID,
		conn:          conn,
		hub:           hub,
		limiter:       rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
		subscriptions: make(map[string]struct{}),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Overflow returns the number of events dropped for this client.
func (c *Client) Overflow() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflow
}

func (c *Client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// subscribe and unsubscribe are idempotent.
func (c *Client) subscribe(channel string) {
	c.mu.Lock()
	c.subscriptions[channel] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()
}

// enqueue appends an event for delivery. A full queue drops the oldest
// pending event of the same channel, or the oldest overall when none
// matches, so each channel keeps its latest state.
func (c *Client) enqueue(event events.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= queueCapacity {
		dropped := false
		for i, pending := range c.queue {
			if pending.Channel == event.Channel {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			c.queue = c.queue[1:]
		}
		c.overflow++
	}
	c.queue = append(c.queue, event)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) drainQueue() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.queue
	c.queue = nil
	return batch
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	c.conn.Close()
}

// writePump serializes queued events to the socket in order, with a
// per-write deadline and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.remove(c)
	}()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.wake:
			for _, event := range c.drainQueue() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteJSON(event); err != nil {
					c.close()
					return
				}
			}
		}
	}
}

// readPump consumes subscribe/unsubscribe frames, rate limited per
// connection. Frames over the limit are dropped.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.hub.remove(c)
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !c.limiter.Allow() {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.hub.handleMessage(c, msg)
	}
}

func (c *Client) sendError(message string) {
	c.enqueue(events.Event{
		Channel: events.ChannelSystem,
		Data:    map[string]string{"error": message},
	})
}
