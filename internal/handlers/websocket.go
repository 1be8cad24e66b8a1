package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/middleware"
	"services-market-backend/internal/models"
	"services-market-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub                 *services.WSHub
	live                *services.LiveQueries
	userService         *services.UserService
	conversationService *services.ConversationService
	upgrader            websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. checkOrigin may be nil
// to accept every origin.
func NewWebSocketHandler(
	hub *services.WSHub,
	live *services.LiveQueries,
	userService *services.UserService,
	conversationService *services.ConversationService,
	checkOrigin func(r *http.Request) bool,
) *WebSocketHandler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WebSocketHandler{
		hub:                 hub,
		live:                live,
		userService:         userService,
		conversationService: conversationService,
		upgrader:            websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// HandleWebSocket handles GET /ws?token=
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.userService)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := h.hub.Register(userID, conn)
	defer h.hub.Unregister(client)

	ctx := r.Context()
	h.sendSession(ctx, client)

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to parse WebSocket message")
			h.sendError(client, "", apperr.Validation("websocket", "invalid message format"))
			continue
		}

		if err := h.handleMessage(ctx, client, msg); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("Failed to handle message")
			h.sendError(client, msg.Type, err)
		}
	}
}

// sendSession tells a fresh connection who is signed in
func (h *WebSocketHandler) sendSession(ctx context.Context, client *services.Client) {
	frame := services.WSMessage{Type: services.FrameSession}
	if profile, err := h.userService.GetProfile(ctx, client.UserID); err == nil {
		frame.Data = profile
	} else {
		log.Warn().Err(err).Str("user_id", client.UserID).Msg("Failed to load session profile")
		frame.Data = map[string]string{"user_id": client.UserID}
	}
	if err := client.Send(frame); err != nil {
		log.Error().Err(err).Str("user_id", client.UserID).Msg("Failed to send session message")
	}
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, client *services.Client, msg services.WSMessage) error {
	switch msg.Type {
	case services.FrameSubscribeMessages:
		return h.subscribeMessages(client, msg.ConversationID)
	case services.FrameSubscribeConversations:
		h.subscribeConversations(client)
		return nil
	case services.FrameSubscribeListings:
		var filter services.BrowseFilter
		if msg.Filter != nil {
			filter = *msg.Filter
		}
		h.subscribeListings(client, filter)
		return nil
	case services.FrameUnsubscribe:
		if !msg.Slot.Valid() {
			return apperr.Validation("unsubscribe", "unknown slot %q", msg.Slot)
		}
		client.Session.Cancel(msg.Slot)
		return nil
	case services.FrameSendMessage:
		return h.sendMessage(ctx, client, msg)
	case services.FrameMarkRead:
		if msg.ConversationID == "" {
			return apperr.Validation("mark read", "conversation_id is required")
		}
		return h.conversationService.MarkRead(ctx, msg.ConversationID, client.UserID)
	default:
		return apperr.Validation("websocket", "unknown message type %q", msg.Type)
	}
}

func (h *WebSocketHandler) subscribeMessages(client *services.Client, conversationID string) error {
	if conversationID == "" {
		return apperr.Validation("subscribe messages", "conversation_id is required")
	}

	client.Session.SetActiveConversation(conversationID)
	client.Session.Place(services.SlotMessages, func() *services.Subscription {
		return h.live.SubscribeMessages(conversationID, client.UserID,
			func(messages []*models.Message) {
				client.Session.StoreMessages(conversationID, messages)
				h.push(client, services.WSMessage{
					Type:           services.FrameMessages,
					ConversationID: conversationID,
					Data:           messages,
				})
			},
			h.subscriptionError(client, services.SlotMessages),
		)
	})
	return nil
}

func (h *WebSocketHandler) subscribeConversations(client *services.Client) {
	client.Session.Place(services.SlotConversations, func() *services.Subscription {
		return h.live.SubscribeConversationsFor(client.UserID,
			func(convs []*models.Conversation) {
				client.Session.StoreConversations(convs)
				h.push(client, services.WSMessage{Type: services.FrameConversations, Data: convs})
			},
			h.subscriptionError(client, services.SlotConversations),
		)
	})
}

func (h *WebSocketHandler) subscribeListings(client *services.Client, filter services.BrowseFilter) {
	client.Session.Place(services.SlotListings, func() *services.Subscription {
		return h.live.SubscribeListings(filter,
			func(listings []*models.Listing) {
				h.push(client, services.WSMessage{Type: services.FrameListings, Data: listingResponses(listings)})
			},
			h.subscriptionError(client, services.SlotListings),
		)
	})
}

func (h *WebSocketHandler) sendMessage(ctx context.Context, client *services.Client, msg services.WSMessage) error {
	if msg.ConversationID == "" {
		return apperr.Validation("send message", "conversation_id is required")
	}
	var err error
	if msg.ImageURL != "" {
		_, err = h.conversationService.SendImageMessage(ctx, msg.ConversationID, client.UserID, msg.ImageURL)
	} else {
		_, err = h.conversationService.SendMessage(ctx, msg.ConversationID, client.UserID, msg.Text)
	}
	return err
}

// subscriptionError reports a failed live query. The subscription is over
// and the client has to subscribe again.
func (h *WebSocketHandler) subscriptionError(client *services.Client, slot services.Slot) func(error) {
	return func(err error) {
		log.Warn().Err(err).Str("user_id", client.UserID).Str("slot", string(slot)).Msg("Live subscription failed")
		h.push(client, services.WSMessage{
			Type:    services.FrameSubscriptionError,
			Slot:    slot,
			Kind:    apperr.KindOf(err).String(),
			Message: apperr.DetailOf(err),
		})
	}
}

// push writes a frame from a subscription callback. A failed write is only
// logged, the read loop notices the broken connection and cleans up.
func (h *WebSocketHandler) push(client *services.Client, frame services.WSMessage) {
	if err := client.Send(frame); err != nil {
		log.Warn().Err(err).Str("user_id", client.UserID).Str("type", frame.Type).Msg("Failed to push frame")
	}
}

// sendError sends an error frame for a failed request
func (h *WebSocketHandler) sendError(client *services.Client, requestType string, err error) {
	frame := services.WSMessage{
		Type:    services.FrameError,
		Kind:    apperr.KindOf(err).String(),
		Message: apperr.DetailOf(err),
	}
	if requestType != "" {
		frame.Data = map[string]string{"request": requestType}
	}
	if err := client.Send(frame); err != nil {
		log.Warn().Err(err).Str("user_id", client.UserID).Msg("Failed to send error frame")
	}
}
