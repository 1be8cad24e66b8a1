package services

import (
	"context"
	"strings"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/cache"
	"services-market-backend/internal/events"
	"services-market-backend/internal/metrics"
	"services-market-backend/internal/models"
	"services-market-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ListingService handles the listing lifecycle including boosts
type ListingService struct {
	listings repository.ListingStore
	users    repository.UserStore
	cache    cache.ListingCache
	bus      events.Bus
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewListingService creates a new listing service
func NewListingService(store repository.Store, listingCache cache.ListingCache, bus events.Bus, m *metrics.Metrics) *ListingService {
	return &ListingService{
		listings: store.Listings(),
		users:    store.Users(),
		cache:    listingCache,
		bus:      bus,
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock replaces the time source
func (s *ListingService) SetClock(now func() time.Time) { s.now = now }

// ListingFields holds owner supplied listing fields. Nil means not provided.
type ListingFields struct {
	Title       *string               `json:"title"`
	Category    *models.Category      `json:"category"`
	Description *string               `json:"description"`
	Price       *string               `json:"price"`
	Location    *string               `json:"location"`
	Status      *models.ListingStatus `json:"status"`
	Images      *[]models.Image       `json:"images"`
}

func (f ListingFields) apply(l *models.Listing) {
	setString(&l.Title, f.Title)
	setString(&l.Description, f.Description)
	setString(&l.Price, f.Price)
	setString(&l.Location, f.Location)
	if f.Category != nil {
		l.Category = models.Category(strings.TrimSpace(string(*f.Category)))
	}
	if f.Status != nil {
		l.Status = *f.Status
	}
	if f.Images != nil {
		l.Images = append([]models.Image(nil), (*f.Images)...)
	}
}

// CreateListing creates an active listing owned by ownerID
func (s *ListingService) CreateListing(ctx context.Context, ownerID string, f ListingFields) (*models.Listing, error) {
	const op = "create listing"

	profile, err := s.users.GetProfile(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	listing := &models.Listing{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		OwnerEmail: profile.Email,
		Images:     []models.Image{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.Status = nil
	f.apply(listing)
	listing.Status = models.StatusActive
	if err := listing.Validate(); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}

	if err := s.listings.Create(ctx, listing); err != nil {
		return nil, err
	}
	s.metrics.ListingsCreated.Inc()
	publish(ctx, s.bus, events.ListingsChanged())

	log.Info().Str("listing_id", listing.ID).Str("owner_id", ownerID).Msg("Listing created")
	return listing, nil
}

// UpdateListing merges f into a listing the caller owns
func (s *ListingService) UpdateListing(ctx context.Context, listingID, ownerID string, f ListingFields) (*models.Listing, error) {
	const op = "update listing"

	listing, err := s.owned(ctx, op, listingID, ownerID)
	if err != nil {
		return nil, err
	}
	f.apply(listing)
	listing.UpdatedAt = s.now()
	if err := listing.Validate(); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}

	if err := s.listings.Update(ctx, listing); err != nil {
		return nil, err
	}
	s.changed(ctx, listing.ID)
	return listing, nil
}

// ToggleStatus flips active to inactive, and any other status to active
func (s *ListingService) ToggleStatus(ctx context.Context, listingID, ownerID string) (*models.Listing, error) {
	listing, err := s.owned(ctx, "toggle status", listingID, ownerID)
	if err != nil {
		return nil, err
	}
	if listing.Status == models.StatusActive {
		listing.Status = models.StatusInactive
	} else {
		listing.Status = models.StatusActive
	}
	listing.UpdatedAt = s.now()

	if err := s.listings.Update(ctx, listing); err != nil {
		return nil, err
	}
	s.changed(ctx, listing.ID)
	return listing, nil
}

// DeleteListing permanently removes a listing the caller owns
func (s *ListingService) DeleteListing(ctx context.Context, listingID, ownerID string) error {
	if _, err := s.owned(ctx, "delete listing", listingID, ownerID); err != nil {
		return err
	}
	if err := s.listings.Delete(ctx, listingID); err != nil {
		return err
	}
	s.changed(ctx, listingID)

	log.Info().Str("listing_id", listingID).Str("owner_id", ownerID).Msg("Listing deleted")
	return nil
}

// GetListing returns one listing. An overdue boost is cleared before returning.
func (s *ListingService) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	now := s.now()

	cached, gen, err := s.cache.GetListing(ctx, listingID)
	if err != nil {
		log.Warn().Err(err).Str("listing_id", listingID).Msg("Listing cache read failed")
	}
	if cached != nil && !cached.BoostExpired(now) {
		return cached, nil
	}

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.BoostExpired(now) {
		if _, err := s.expire(ctx, listing, now); err != nil {
			return nil, err
		}
	}
	if err := s.cache.SetListing(ctx, listing, gen); err != nil {
		log.Warn().Err(err).Str("listing_id", listingID).Msg("Listing cache write failed")
	}
	return listing, nil
}

// OwnerFilter narrows the listings of one owner. An empty Status keeps every status.
type OwnerFilter struct {
	Query    string
	Category models.Category
	Status   models.ListingStatus
	Sort     SortKey
}

// ListOwnerListings sweeps the owner's boosts and returns the matching
// listings, boosted listings first
func (s *ListingService) ListOwnerListings(ctx context.Context, ownerID string, f OwnerFilter) ([]*models.Listing, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, apperr.Validation("list owner listings", "unknown category %q", f.Category)
	}
	key, err := ParseSortKey(string(f.Sort))
	if err != nil {
		return nil, err
	}

	if _, err := s.SweepExpiredBoosts(ctx, SweepScope{OwnerID: ownerID}); err != nil {
		return nil, err
	}
	listings, err := s.listings.List(ctx, repository.ListingQuery{
		OwnerID:  ownerID,
		Status:   f.Status,
		Category: f.Category,
	})
	if err != nil {
		return nil, err
	}

	term := foldText(f.Query)
	results := []*models.Listing{}
	for _, l := range listings {
		if matchesTerm(l, term) {
			results = append(results, l)
		}
	}
	SortListings(results, key)
	return results, nil
}

func (s *ListingService) owned(ctx context.Context, op, listingID, ownerID string) (*models.Listing, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != ownerID {
		return nil, apperr.NotOwner(op)
	}
	return listing, nil
}

// changed drops the cached copy and tells live subscriptions
func (s *ListingService) changed(ctx context.Context, listingID string) {
	if err := s.cache.DeleteListing(ctx, listingID); err != nil {
		log.Warn().Err(err).Str("listing_id", listingID).Msg("Listing cache invalidation failed")
	}
	publish(ctx, s.bus, events.ListingsChanged())
}
