package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin policy is enforced by the CORS layer
	},
}

type wsClient struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	auctionID uuid.NullUUID
	userID    uuid.NullUUID
}

type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub pushes events to websocket subscribers. A subscriber watches one
// auction and, when authenticated, also receives its own outbid notices.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	logger  *logrus.Logger
}

var _ Sink = (*Hub)(nil)

// NewHub creates an empty hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{clients: make(map[*wsClient]bool), logger: logger}
}

// Serve upgrades the request and keeps the subscription until the peer disconnects
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, auctionID, userID uuid.NullUUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade websocket connection")
		return
	}

	client := &wsClient{conn: conn, auctionID: auctionID, userID: userID}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Drain reads until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

// ClientCount returns the number of live subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		c.conn.Close()
	}
	h.mu.Unlock()
}

func (h *Hub) send(match func(*wsClient) bool, msgType string, data any) error {
	payload, err := json.Marshal(message{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}

	h.mu.RLock()
	var targets []*wsClient
	for c := range h.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var failed int
	for _, c := range targets {
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.mu.Unlock()
		if err != nil {
			failed++
			h.remove(c)
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to deliver %s to %d of %d subscribers", msgType, failed, len(targets))
	}
	return nil
}

func (h *Hub) NotifyOutbid(ctx context.Context, userID uuid.UUID, p OutbidPayload) error {
	return h.send(func(c *wsClient) bool {
		return c.userID.Valid && c.userID.UUID == userID
	}, "outbid", p)
}

func (h *Hub) BroadcastNewBid(ctx context.Context, p NewBidPayload) error {
	return h.send(func(c *wsClient) bool {
		return c.auctionID.Valid && c.auctionID.UUID == p.AuctionID
	}, "new_bid", p)
}

func (h *Hub) NotifyWatchersAuctionEnded(ctx context.Context, p AuctionEndedPayload) error {
	return h.send(func(c *wsClient) bool {
		return c.auctionID.Valid && c.auctionID.UUID == p.AuctionID
	}, "auction_ended", p)
}
