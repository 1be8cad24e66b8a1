package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"services-market-backend/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket frame in either direction
type WSMessage struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Text           string        `json:"text,omitempty"`
	ImageURL       string        `json:"image_url,omitempty"`
	Slot           Slot          `json:"slot,omitempty"`
	Filter         *BrowseFilter `json:"filter,omitempty"`
	Kind           string        `json:"kind,omitempty"`
	Message        string        `json:"message,omitempty"`
	Data           interface{}   `json:"data,omitempty"`
}

// Frame types
const (
	FrameSubscribeMessages      = "subscribe_messages"
	FrameSubscribeConversations = "subscribe_conversations"
	FrameSubscribeListings      = "subscribe_listings"
	FrameUnsubscribe            = "unsubscribe"
	FrameSendMessage            = "send_message"
	FrameMarkRead               = "mark_read"

	FrameSession           = "session"
	FrameMessages          = "messages"
	FrameConversations     = "conversations"
	FrameListings          = "listings"
	FrameError             = "error"
	FrameSubscriptionError = "subscription_error"
)

// Client is one registered connection and its session
type Client struct {
	UserID  string
	Session *Session

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Send writes one frame. Safe for concurrent use.
func (c *Client) Send(message WSMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// WSHub manages WebSocket connections, one per user
type WSHub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	metrics *metrics.Metrics
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(m *metrics.Metrics) *WSHub {
	return &WSHub{
		clients: make(map[string]*Client),
		metrics: m,
	}
}

// Register registers a new WebSocket connection for a user. An older
// connection of the same user is closed.
func (h *WSHub) Register(userID string, conn *websocket.Conn) *Client {
	client := &Client{
		UserID:  userID,
		Session: NewSession(userID),
		conn:    conn,
	}

	h.mu.Lock()
	existing := h.clients[userID]
	h.clients[userID] = client
	h.mu.Unlock()

	if existing != nil {
		existing.conn.Close()
		existing.Session.Close()
	} else {
		h.metrics.WSConnections.Inc()
	}

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")
	return client
}

// Unregister removes a connection and cancels its subscriptions
func (h *WSHub) Unregister(client *Client) {
	h.mu.Lock()
	current := h.clients[client.UserID] == client
	if current {
		delete(h.clients, client.UserID)
	}
	h.mu.Unlock()

	client.conn.Close()
	client.Session.Close()
	if current {
		h.metrics.WSConnections.Dec()
		log.Info().Str("user_id", client.UserID).Msg("WebSocket connection unregistered")
	}
}

// IsOnline checks if a user is online
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[userID]
	return exists
}

// Close drops every connection
func (h *WSHub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}
