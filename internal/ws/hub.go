// Package ws is the real-time distribution layer: a gorilla/websocket hub
// that fans bus events out to subscribed clients. Each client carries a
// bounded outbound queue with bounded-latest overflow, an inbound frame
// rate limit, and a single writer goroutine per connection.
package ws

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/events"
)

// AuthFunc resolves a bearer token to a user ID. An error means the token
// is invalid or expired.
type AuthFunc func(ctx context.Context, token string) (string, error)

// busBuffer is the hub's subscription buffer on the event bus.
const busBuffer = 1024

// Hub owns the client set and pumps bus events to subscribers.
type Hub struct {
	bus      *events.Bus
	auth     AuthFunc
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a hub over the bus. auth may be nil, in which case all
// connections are anonymous and user channels are refused.
func NewHub(bus *events.Bus, auth AuthFunc, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		bus:    bus,
		auth:   auth,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
	}
}

// SetAuth installs the token resolver. Call before serving connections.
func (h *Hub) SetAuth(auth AuthFunc) { h.auth = auth }

// Run consumes the bus until the context is cancelled, then closes every
// client. Blocks; run it on its own goroutine or an errgroup.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.bus.Subscribe(busBuffer)
	defer h.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				h.closeAll()
				return nil
			}
			h.broadcast(event)
		}
	}
}

// ServeHTTP upgrades the request. The optional ?token= query parameter
// authenticates the connection; an invalid token is rejected before the
// upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var userID string
	if token := r.URL.Query().Get("token"); token != "" {
		if h.auth == nil {
			http.Error(w, "authentication unavailable", http.StatusUnauthorized)
			return
		}
		resolved, err := h.auth(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID = resolved
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[ws] upgrade failed: %v", err)
		return
	}

	client := newClient(uuid.NewString(), userID, conn, h)
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// broadcast delivers one bus event to every subscribed client. User
// channel events additionally require the client identity to match.
func (h *Hub) broadcast(event events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.subscribed(event.Channel) {
			continue
		}
		if events.IsUserChannel(event.Channel) && events.UserChannel(c.userID) != event.Channel {
			continue
		}
		c.enqueue(event)
	}
}

// handleMessage resolves a subscribe/unsubscribe frame to a full channel
// name and mutates the client's subscription set. Both operations are
// idempotent; acks go back on the system channel.
func (h *Hub) handleMessage(c *Client, msg clientMessage) {
	channel, refusal := h.resolveChannel(c, msg)
	if refusal != "" {
		c.sendError(refusal)
		return
	}

	switch msg.Action {
	case "subscribe":
		c.subscribe(channel)
		c.enqueue(events.Event{
			Channel: events.ChannelSystem,
			Symbol:  msg.Symbol,
			Data:    map[string]string{"subscribed": channel},
		})
	case "unsubscribe":
		c.unsubscribe(channel)
		c.enqueue(events.Event{
			Channel: events.ChannelSystem,
			Symbol:  msg.Symbol,
			Data:    map[string]string{"unsubscribed": channel},
		})
	default:
		c.sendError("unknown action")
	}
}

// resolveChannel maps the wire form (channel kind + optional symbol) to the
// bus channel name. Returns a non-empty error message on refusal.
func (h *Hub) resolveChannel(c *Client, msg clientMessage) (string, string) {
	switch msg.Channel {
	case "pool", "orderbook":
		canon, err := market.ParseSymbolPath(msg.Symbol)
		if err != nil {
			return "", "unknown symbol"
		}
		if msg.Channel == "pool" {
			return events.PoolChannel(canon), ""
		}
		return events.OrderbookChannel(canon), ""
	case "user":
		if c.userID == "" {
			return "", "authentication required"
		}
		return events.UserChannel(c.userID), ""
	case "trade":
		return events.ChannelTrade, ""
	}
	return "", "unknown channel"
}
