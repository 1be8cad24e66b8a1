package handlers

import (
	"net/http"

	"services-market-backend/internal/middleware"
	"services-market-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// ConversationHandler handles messaging HTTP requests
type ConversationHandler struct {
	conversationService *services.ConversationService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversationService *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
	}
}

// SendMessageRequest represents the request body for sending a message.
// Exactly one of Text and ImageURL is used, ImageURL wins when both are set.
type SendMessageRequest struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
}

// ContactSeller handles POST /api/v1/listings/{id}/contact
func (h *ConversationHandler) ContactSeller(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversationService.ContactSeller(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, r, err, "Failed to contact seller")
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

// ListConversations handles GET /api/v1/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.conversationService.ListConversations(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, r, err, "Failed to list conversations")
		return
	}
	respondJSON(w, http.StatusOK, convs)
}

// ListMessages handles GET /api/v1/conversations/{id}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.conversationService.ListMessages(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, r, err, "Failed to list messages")
		return
	}
	respondJSON(w, http.StatusOK, messages)
}

// SendMessage handles POST /api/v1/conversations/{id}/messages
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(ctx)

	send := h.conversationService.SendMessage
	payload := req.Text
	if req.ImageURL != "" {
		send = h.conversationService.SendImageMessage
		payload = req.ImageURL
	}

	msg, err := send(ctx, conversationID, userID, payload)
	if err != nil {
		respondServiceError(w, r, err, "Failed to send message")
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /api/v1/conversations/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.conversationService.MarkRead(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context())); err != nil {
		respondServiceError(w, r, err, "Failed to mark conversation read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
