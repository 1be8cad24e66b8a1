package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"services-market-backend/internal/cache"
	"services-market-backend/internal/events"
	"services-market-backend/internal/metrics"
	"services-market-backend/internal/models"
	"services-market-backend/internal/repository/memory"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store         *memory.Store
	bus           *events.LocalBus
	metrics       *metrics.Metrics
	clock         *testClock
	users         *UserService
	listings      *ListingService
	conversations *ConversationService
	live          *LiveQueries
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:   memory.New(),
		bus:     events.NewLocalBus(),
		metrics: metrics.New(),
		clock:   newTestClock(),
	}
	f.listings = NewListingService(f.store, cache.Noop{}, f.bus, f.metrics)
	f.listings.SetClock(f.clock.Now)
	f.users = NewUserService(f.store, f.listings, "test-secret", 1000)
	f.conversations = NewConversationService(f.store, f.listings, f.bus, f.metrics, nil, nil, 100, 5000)
	f.conversations.SetClock(f.clock.Now)

	live, err := NewLiveQueries(f.bus, f.conversations, f.listings, f.metrics)
	require.NoError(t, err)
	f.live = live
	t.Cleanup(live.Close)
	return f
}

// addUser stores a person with the given balance, skipping password hashing
func (f *fixture) addUser(t *testing.T, id string, balance int64) {
	t.Helper()
	now := f.clock.Now()
	err := f.store.Users().CreateWithProfile(context.Background(),
		&models.User{ID: id, Email: id + "@example.com", Kind: models.AccountPerson, CreatedAt: now},
		&models.Profile{UserID: id, Name: id, Email: id + "@example.com", Kind: models.AccountPerson, Balance: balance, CreatedAt: now},
	)
	require.NoError(t, err)
}

func (f *fixture) addListing(t *testing.T, ownerID, title string) *models.Listing {
	t.Helper()
	listing, err := f.listings.CreateListing(context.Background(), ownerID, ListingFields{
		Title:       ptr(title),
		Category:    ptr(models.CategoryIT),
		Description: ptr("Web development and hosting"),
		Price:       ptr("500 Kč/h"),
		Location:    ptr("Praha"),
	})
	require.NoError(t, err)
	return listing
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	profile, err := f.store.Users().GetProfile(context.Background(), userID)
	require.NoError(t, err)
	return profile.Balance
}

func ptr[T any](v T) *T { return &v }
