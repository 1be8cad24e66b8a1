package handlers

import (
	"net/http"

	"services-market-backend/internal/middleware"
	"services-market-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// UserHandler handles account and profile HTTP requests
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PushTokenRequest represents the request body for updating the push token
type PushTokenRequest struct {
	PushToken *string `json:"push_token"`
}

// Register handles POST /api/v1/auth/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.userService.Register(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err, "Failed to register user")
		return
	}

	log.Info().
		Str("user_id", resp.Profile.UserID).
		Str("kind", string(resp.Profile.Kind)).
		Msg("User registered")

	respondJSON(w, http.StatusCreated, resp)
}

// Login handles POST /api/v1/auth/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondServiceError(w, r, err, "Failed to log in")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetMe handles GET /api/v1/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	profile, err := h.userService.GetProfile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, r, err, "Failed to get profile")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// UpdateMe handles PATCH /api/v1/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req services.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.userService.UpdateProfile(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		respondServiceError(w, r, err, "Failed to update profile")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// UpdatePushToken handles PUT /api/v1/me/push-token
func (h *UserHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	var req PushTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.userService.UpdatePushToken(r.Context(), middleware.GetUserID(r.Context()), req.PushToken); err != nil {
		respondServiceError(w, r, err, "Failed to update push token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchUsers handles GET /api/v1/users/search?q=
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	results, err := h.userService.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondServiceError(w, r, err, "Failed to search users")
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// GetPublicProfile handles GET /api/v1/users/{user_id}
func (h *UserHandler) GetPublicProfile(w http.ResponseWriter, r *http.Request) {
	view, err := h.userService.PublicProfile(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		respondServiceError(w, r, err, "Failed to get public profile")
		return
	}
	respondJSON(w, http.StatusOK, view)
}
