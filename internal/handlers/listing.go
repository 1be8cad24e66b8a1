package handlers

import (
	"net/http"
	"time"

	"services-market-backend/internal/middleware"
	"services-market-backend/internal/models"
	"services-market-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// BoostSettings are the price and length of one boost
type BoostSettings struct {
	Cost     int64
	Duration time.Duration
}

// ListingHandler handles listing HTTP requests
type ListingHandler struct {
	listingService *services.ListingService
	mediaService   *services.MediaService
	boost          BoostSettings
}

// NewListingHandler creates a new listing handler. mediaService may be nil
// when no bucket is configured.
func NewListingHandler(listingService *services.ListingService, mediaService *services.MediaService, boost BoostSettings) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
		mediaService:   mediaService,
		boost:          boost,
	}
}

// ListingResponse adds the rounded up boost time to a listing
type ListingResponse struct {
	*models.Listing
	BoostMinutesLeft int `json:"boost_minutes_left,omitempty"`
}

func listingResponse(l *models.Listing, now time.Time) ListingResponse {
	minutes, _ := services.BoostTimeRemaining(l, now)
	return ListingResponse{Listing: l, BoostMinutesLeft: minutes}
}

func listingResponses(listings []*models.Listing) []ListingResponse {
	now := time.Now()
	out := make([]ListingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingResponse(l, now))
	}
	return out
}

// Browse handles GET /api/v1/listings?q=&location=&category=&sort=
func (h *ListingHandler) Browse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listings, err := h.listingService.Browse(r.Context(), services.BrowseFilter{
		Query:    q.Get("q"),
		Location: q.Get("location"),
		Category: models.Category(q.Get("category")),
		Sort:     services.SortKey(q.Get("sort")),
	})
	if err != nil {
		respondServiceError(w, r, err, "Failed to browse listings")
		return
	}
	respondJSON(w, http.StatusOK, listingResponses(listings))
}

// GetListing handles GET /api/v1/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.listingService.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, "Failed to get listing")
		return
	}
	respondJSON(w, http.StatusOK, listingResponse(listing, time.Now()))
}

// MyListings handles GET /api/v1/me/listings?q=&category=&sort=
func (h *ListingHandler) MyListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listings, err := h.listingService.ListOwnerListings(r.Context(), middleware.GetUserID(r.Context()), services.OwnerFilter{
		Query:    q.Get("q"),
		Category: models.Category(q.Get("category")),
		Sort:     services.SortKey(q.Get("sort")),
	})
	if err != nil {
		respondServiceError(w, r, err, "Failed to list own listings")
		return
	}
	respondJSON(w, http.StatusOK, listingResponses(listings))
}

// CreateListing handles POST /api/v1/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req services.ListingFields
	if !decodeJSON(w, r, &req) {
		return
	}

	listing, err := h.listingService.CreateListing(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		respondServiceError(w, r, err, "Failed to create listing")
		return
	}
	respondJSON(w, http.StatusCreated, listingResponse(listing, time.Now()))
}

// UpdateListing handles PATCH /api/v1/listings/{id}
func (h *ListingHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	var req services.ListingFields
	if !decodeJSON(w, r, &req) {
		return
	}

	listing, err := h.listingService.UpdateListing(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req)
	if err != nil {
		respondServiceError(w, r, err, "Failed to update listing")
		return
	}
	respondJSON(w, http.StatusOK, listingResponse(listing, time.Now()))
}

// ToggleStatus handles POST /api/v1/listings/{id}/toggle-status
func (h *ListingHandler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	listing, err := h.listingService.ToggleStatus(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, r, err, "Failed to toggle listing status")
		return
	}
	respondJSON(w, http.StatusOK, listingResponse(listing, time.Now()))
}

// DeleteListing handles DELETE /api/v1/listings/{id}
func (h *ListingHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	if err := h.listingService.DeleteListing(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context())); err != nil {
		respondServiceError(w, r, err, "Failed to delete listing")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PurchaseBoost handles POST /api/v1/listings/{id}/boost
func (h *ListingHandler) PurchaseBoost(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.listingService.PurchaseBoost(r.Context(),
		chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), h.boost.Cost, h.boost.Duration)
	if err != nil {
		respondServiceError(w, r, err, "Failed to purchase boost")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"listing": listingResponse(receipt.Listing, time.Now()),
		"balance": receipt.Balance,
	})
}

// UploadImage handles POST /api/v1/listings/images/upload
func (h *ListingHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if h.mediaService == nil {
		respondError(w, "Image uploads are not configured", http.StatusServiceUnavailable)
		return
	}

	var req services.UploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := middleware.GetUserID(r.Context())
	resp, err := h.mediaService.GetPreSignedURL(r.Context(), userID, req)
	if err != nil {
		respondServiceError(w, r, err, "Failed to generate upload URL")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("image_url", resp.ImageURL).
		Msg("Upload URL generated")

	respondJSON(w, http.StatusOK, resp)
}
