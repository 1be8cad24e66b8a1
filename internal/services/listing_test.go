package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/events"
	"services-market-backend/internal/models"
	"services-market-backend/internal/repository"
	"services-market-backend/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "owner", 0)

	var published []events.Event
	unsubscribe, err := f.bus.Subscribe(func(ev events.Event) { published = append(published, ev) })
	require.NoError(t, err)
	defer unsubscribe()

	listing, err := f.listings.CreateListing(ctx, "owner", ListingFields{
		Title:       ptr("  Web design  "),
		Category:    ptr(models.CategoryDesign),
		Description: ptr("Landing pages"),
		Location:    ptr("Brno"),
		Status:      ptr(models.StatusPaused),
		Images:      &[]models.Image{{URL: "https://cdn.example.com/1.jpg", IsPreview: true}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, listing.ID)
	assert.Equal(t, "Web design", listing.Title)
	assert.Equal(t, models.StatusActive, listing.Status)
	assert.Equal(t, "owner@example.com", listing.OwnerEmail)
	assert.False(t, listing.IsTop)
	assert.Len(t, listing.Images, 1)
	assert.Equal(t, f.clock.Now(), listing.CreatedAt)
	assert.Contains(t, published, events.ListingsChanged())

	stored, err := f.store.Listings().GetByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.Title, stored.Title)
}

func TestCreateListingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "owner", 0)

	tests := []struct {
		name   string
		fields ListingFields
	}{
		{name: "missing title", fields: ListingFields{Category: ptr(models.CategoryIT), Description: ptr("d"), Location: ptr("Praha")}},
		{name: "blank title", fields: ListingFields{Title: ptr("  "), Category: ptr(models.CategoryIT), Description: ptr("d"), Location: ptr("Praha")}},
		{name: "unknown category", fields: ListingFields{Title: ptr("t"), Category: ptr(models.Category("food")), Description: ptr("d"), Location: ptr("Praha")}},
		{name: "missing description", fields: ListingFields{Title: ptr("t"), Category: ptr(models.CategoryIT), Location: ptr("Praha")}},
		{name: "missing location", fields: ListingFields{Title: ptr("t"), Category: ptr(models.CategoryIT), Description: ptr("d")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.listings.CreateListing(ctx, "owner", tt.fields)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}

	_, err := f.listings.CreateListing(ctx, "ghost", ListingFields{
		Title: ptr("t"), Category: ptr(models.CategoryIT), Description: ptr("d"), Location: ptr("Praha"),
	})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestUpdateListingKeepsBoostAndOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "owner", 1000)
	f.addUser(t, "other", 0)
	listing := f.addListing(t, "owner", "Lessons")

	_, err := f.listings.PurchaseBoost(ctx, listing.ID, "owner", 100, time.Hour)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	updated, err := f.listings.UpdateListing(ctx, listing.ID, "owner", ListingFields{
		Title: ptr("Guitar lessons"),
		Price: ptr("400 Kč/h"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Guitar lessons", updated.Title)
	assert.Equal(t, "400 Kč/h", updated.Price)
	assert.Equal(t, "Praha", updated.Location)
	assert.Equal(t, listing.CreatedAt, updated.CreatedAt)
	assert.Equal(t, f.clock.Now(), updated.UpdatedAt)

	stored, err := f.store.Listings().GetByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsTop)
	assert.Equal(t, "owner", stored.OwnerID)

	_, err = f.listings.UpdateListing(ctx, listing.ID, "other", ListingFields{Title: ptr("Mine now")})
	assert.True(t, errors.Is(err, apperr.ErrNotOwner))

	_, err = f.listings.UpdateListing(ctx, listing.ID, "owner", ListingFields{Category: ptr(models.Category("x"))})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestToggleStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "owner", 0)
	listing := f.addListing(t, "owner", "Lessons")

	toggled, err := f.listings.ToggleStatus(ctx, listing.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, toggled.Status)

	toggled, err = f.listings.ToggleStatus(ctx, listing.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, toggled.Status)

	_, err = f.listings.UpdateListing(ctx, listing.ID, "owner", ListingFields{Status: ptr(models.StatusPaused)})
	require.NoError(t, err)
	toggled, err = f.listings.ToggleStatus(ctx, listing.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, toggled.Status)

	_, err = f.listings.ToggleStatus(ctx, listing.ID, "someone")
	assert.True(t, errors.Is(err, apperr.ErrNotOwner))
}

func TestDeleteListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "owner", 0)
	listing := f.addListing(t, "owner", "Lessons")

	err := f.listings.DeleteListing(ctx, listing.ID, "intruder")
	assert.True(t, errors.Is(err, apperr.ErrNotOwner))

	require.NoError(t, f.listings.DeleteListing(ctx, listing.ID, "owner"))
	_, err = f.listings.GetListing(ctx, listing.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = f.listings.DeleteListing(ctx, listing.ID, "owner")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestListOwnerListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "owner", 1000)
	f.addUser(t, "other", 0)

	first := f.addListing(t, "owner", "First")
	f.clock.Advance(time.Minute)
	second := f.addListing(t, "owner", "Second")
	f.addListing(t, "other", "Foreign")
	_, err := f.listings.ToggleStatus(ctx, first.ID, "owner")
	require.NoError(t, err)
	_, err = f.listings.PurchaseBoost(ctx, second.ID, "owner", 100, time.Minute)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	mine, err := f.listings.ListOwnerListings(ctx, "owner", OwnerFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.False(t, mine[0].IsTop)
	assert.Equal(t, models.StatusInactive, mine[1].Status)

	empty, err := f.listings.ListOwnerListings(ctx, "nobody", OwnerFilter{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestOwnerViewsPutBoostedListingFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "owner", 1000)
	older := f.addListing(t, "owner", "Old boosted")
	f.clock.Advance(time.Minute)
	newer := f.addListing(t, "owner", "Newer plain")

	_, err := f.listings.PurchaseBoost(ctx, older.ID, "owner", 100, time.Hour)
	require.NoError(t, err)

	mine, err := f.listings.ListOwnerListings(ctx, "owner", OwnerFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{older.ID, newer.ID}, listingIDs(mine))

	oldest, err := f.listings.ListOwnerListings(ctx, "owner", OwnerFilter{Sort: SortOldest})
	require.NoError(t, err)
	assert.Equal(t, []string{older.ID, newer.ID}, listingIDs(oldest))

	view, err := f.users.PublicProfile(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, []string{older.ID, newer.ID}, listingIDs(view.Listings))

	// once the boost runs out both views fall back to plain order
	f.clock.Advance(2 * time.Hour)
	mine, err = f.listings.ListOwnerListings(ctx, "owner", OwnerFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID, older.ID}, listingIDs(mine))

	view, err = f.users.PublicProfile(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID, older.ID}, listingIDs(view.Listings))
	assert.False(t, view.Listings[1].IsTop)
}

func TestListOwnerListingsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "owner", 0)

	web := f.addListing(t, "owner", "Tvorba webů")
	f.clock.Advance(time.Minute)
	garden, err := f.listings.CreateListing(ctx, "owner", ListingFields{
		Title:       ptr("Údržba zahrady"),
		Category:    ptr(models.CategoryHome),
		Description: ptr("Sekání trávy"),
		Location:    ptr("Brno"),
	})
	require.NoError(t, err)

	byTerm, err := f.listings.ListOwnerListings(ctx, "owner", OwnerFilter{Query: "udrzba"})
	require.NoError(t, err)
	assert.Equal(t, []string{garden.ID}, listingIDs(byTerm))

	byCategory, err := f.listings.ListOwnerListings(ctx, "owner", OwnerFilter{Category: models.CategoryIT})
	require.NoError(t, err)
	assert.Equal(t, []string{web.ID}, listingIDs(byCategory))

	byTitle, err := f.listings.ListOwnerListings(ctx, "owner", OwnerFilter{Sort: SortTitle})
	require.NoError(t, err)
	assert.Equal(t, []string{web.ID, garden.ID}, listingIDs(byTitle))

	_, err = f.listings.ListOwnerListings(ctx, "owner", OwnerFilter{Sort: "cheapest"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.listings.ListOwnerListings(ctx, "owner", OwnerFilter{Category: "cooking"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

// generationCache mirrors the Redis cache contract in memory
type generationCache struct {
	mu      sync.Mutex
	entries map[string]models.Listing
	gens    map[string]uint64
}

func newGenerationCache() *generationCache {
	return &generationCache{entries: map[string]models.Listing{}, gens: map[string]uint64{}}
}

func (c *generationCache) GetListing(ctx context.Context, id string) (*models.Listing, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.entries[id]
	if !ok {
		return nil, c.gens[id], nil
	}
	return &l, c.gens[id], nil
}

func (c *generationCache) SetListing(ctx context.Context, listing *models.Listing, gen uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[listing.ID] == gen {
		c.entries[listing.ID] = *listing
	}
	return nil
}

func (c *generationCache) DeleteListing(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[id]++
	delete(c.entries, id)
	return nil
}

func (c *generationCache) Close() error { return nil }

// interleavedListings runs afterRead once, right after the next single listing read
type interleavedListings struct {
	repository.ListingStore
	afterRead func()
}

func (l *interleavedListings) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	listing, err := l.ListingStore.GetByID(ctx, id)
	if hook := l.afterRead; hook != nil {
		l.afterRead = nil
		hook()
	}
	return listing, err
}

type interleavedStore struct {
	*memory.Store
	listings *interleavedListings
}

func (s interleavedStore) Listings() repository.ListingStore { return s.listings }

func TestGetListingDoesNotCacheCopyReadBeforeUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "owner", 0)
	listing := f.addListing(t, "owner", "Before")

	store := interleavedStore{Store: f.store, listings: &interleavedListings{ListingStore: f.store.Listings()}}
	listingCache := newGenerationCache()
	svc := NewListingService(store, listingCache, f.bus, f.metrics)
	svc.SetClock(f.clock.Now)

	store.listings.afterRead = func() {
		_, err := svc.UpdateListing(ctx, listing.ID, "owner", ListingFields{Title: ptr("After")})
		require.NoError(t, err)
	}
	got, err := svc.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Before", got.Title)

	cached, _, err := listingCache.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)

	got, err = svc.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", got.Title)

	cached, _, err = listingCache.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "After", cached.Title)
}
