package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Postgres keeps microseconds, so fixed times stay comparable after a round trip
var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestStore connects to TEST_DATABASE_URL, applies the schema and empties
// every table. Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	store := NewPostgresStore(pool, 5*time.Second)
	t.Cleanup(store.Close)

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE messages, conversations, listings, profiles, users CASCADE`)
	require.NoError(t, err)
	return store
}

func createUser(t *testing.T, s *PostgresStore, id string, balance int64) {
	t.Helper()
	email := id + "@example.com"
	require.NoError(t, s.Users().CreateWithProfile(context.Background(),
		&models.User{ID: id, Email: email, Kind: models.AccountPerson, PasswordHash: "hash", CreatedAt: base},
		&models.Profile{UserID: id, Name: id, Email: email, Kind: models.AccountPerson, Balance: balance, CreatedAt: base},
	))
}

func createListing(t *testing.T, s *PostgresStore, id, ownerID string, createdAt time.Time) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		ID: id, OwnerID: ownerID, OwnerEmail: ownerID + "@example.com", Title: "Title " + id,
		Category: models.CategoryHome, Description: "Description", Price: "500 Kč", Location: "Ostrava",
		Status: models.StatusActive, CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	require.NoError(t, s.Listings().Create(context.Background(), listing))
	return listing
}

func TestPostgresProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createUser(t, s, "person", 1000)
	person, err := s.Users().GetProfile(ctx, "person")
	require.NoError(t, err)
	assert.Nil(t, person.Company)
	assert.Nil(t, person.PushToken)
	assert.Nil(t, person.LastBalanceUpdate)
	assert.Equal(t, int64(1000), person.Balance)

	company := &models.Company{Name: "Stavby s.r.o.", ICO: "12345678", Address: "Brno"}
	require.NoError(t, s.Users().CreateWithProfile(ctx,
		&models.User{ID: "firm", Email: "firm@example.com", Kind: models.AccountCompany, PasswordHash: "hash", CreatedAt: base},
		&models.Profile{UserID: "firm", Name: "Stavby s.r.o.", Email: "firm@example.com", Kind: models.AccountCompany, Company: company, CreatedAt: base},
	))
	firm, err := s.Users().GetProfile(ctx, "firm")
	require.NoError(t, err)
	assert.Equal(t, company, firm.Company)

	firm.Company = nil
	firm.Kind = models.AccountPerson
	require.NoError(t, s.Users().UpdateProfile(ctx, firm))
	firm, err = s.Users().GetProfile(ctx, "firm")
	require.NoError(t, err)
	assert.Nil(t, firm.Company)

	token := "device"
	require.NoError(t, s.Users().UpdatePushToken(ctx, "person", &token))
	person, err = s.Users().GetProfile(ctx, "person")
	require.NoError(t, err)
	require.NotNil(t, person.PushToken)
	assert.Equal(t, token, *person.PushToken)

	user, err := s.Users().GetByEmail(ctx, "person@example.com")
	require.NoError(t, err)
	assert.Equal(t, "person", user.ID)

	err = s.Users().CreateWithProfile(ctx,
		&models.User{ID: "copy", Email: "person@example.com", Kind: models.AccountPerson, CreatedAt: base},
		&models.Profile{UserID: "copy", Email: "person@example.com", Kind: models.AccountPerson, CreatedAt: base},
	)
	assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)

	_, err = s.Users().GetProfile(ctx, "ghost")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPostgresListingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "owner", 0)

	listing := createListing(t, s, "l1", "owner", base)
	got, err := s.Listings().GetByID(ctx, "l1")
	require.NoError(t, err)
	assert.NotNil(t, got.Images)
	assert.Empty(t, got.Images)
	assert.False(t, got.IsTop)
	assert.Nil(t, got.TopExpiresAt)

	listing.Images = []models.Image{{URL: "https://cdn.example.com/a.jpg", IsPreview: true, Name: "a.jpg"}}
	listing.Title = "Renamed"
	listing.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, s.Listings().Update(ctx, listing))
	got, err = s.Listings().GetByID(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, listing.Images, got.Images)
	assert.True(t, got.UpdatedAt.Equal(base.Add(time.Minute)))

	createListing(t, s, "l2", "owner", base.Add(time.Hour))
	all, err := s.Listings().List(ctx, ListingQuery{OwnerID: "owner"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "l2", all[0].ID)

	require.NoError(t, s.Listings().Delete(ctx, "l2"))
	err = s.Listings().Delete(ctx, "l2")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = s.Listings().GetByID(ctx, "l2")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPostgresConcurrentPurchasesDebitOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "owner", 1000)
	createListing(t, s, "l1", "owner", base)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		receipt   *models.Listing
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listing, _, err := s.Listings().PurchaseBoost(ctx, BoostPurchase{
				ListingID: "l1", OwnerID: "owner", Cost: 100, Reason: "boost purchase",
				Now: base, ExpiresAt: base.Add(time.Hour),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				receipt = listing
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	require.NotNil(t, receipt)
	assert.True(t, receipt.IsTop)
	require.NotNil(t, receipt.TopExpiresAt)
	assert.True(t, receipt.TopExpiresAt.Equal(base.Add(time.Hour)))

	profile, err := s.Users().GetProfile(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(900), profile.Balance)
	assert.Equal(t, "boost purchase", profile.BalanceUpdateReason)
}

func TestPostgresPurchaseBoostRejections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "owner", 99)
	createUser(t, s, "other", 1000)
	createListing(t, s, "l1", "owner", base)

	purchase := func(listingID, ownerID string) error {
		_, _, err := s.Listings().PurchaseBoost(ctx, BoostPurchase{
			ListingID: listingID, OwnerID: ownerID, Cost: 100, Now: base, ExpiresAt: base.Add(time.Hour),
		})
		return err
	}

	assert.True(t, errors.Is(purchase("l1", "owner"), apperr.ErrInsufficientBalance))
	assert.True(t, errors.Is(purchase("l1", "other"), apperr.ErrNotOwner))
	assert.True(t, errors.Is(purchase("missing", "owner"), apperr.ErrNotFound))

	profile, err := s.Users().GetProfile(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(99), profile.Balance)
	listing, err := s.Listings().GetByID(ctx, "l1")
	require.NoError(t, err)
	assert.False(t, listing.IsTop)
}

func TestPostgresExpireBoostOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createUser(t, s, "owner", 0)
	createListing(t, s, "l1", "owner", base)

	_, _, err := s.Listings().PurchaseBoost(ctx, BoostPurchase{
		ListingID: "l1", OwnerID: "owner", Cost: 0, Now: base, ExpiresAt: base.Add(time.Minute),
	})
	require.NoError(t, err)

	top, err := s.Listings().List(ctx, ListingQuery{OnlyTop: true})
	require.NoError(t, err)
	require.Len(t, top, 1)

	changed, err := s.Listings().ExpireBoost(ctx, "l1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Listings().ExpireBoost(ctx, "l1", base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Listings().ExpireBoost(ctx, "l1", base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	listing, err := s.Listings().GetByID(ctx, "l1")
	require.NoError(t, err)
	assert.False(t, listing.IsTop)
	require.NotNil(t, listing.TopExpiredAt)
	assert.True(t, listing.TopExpiredAt.Equal(base.Add(2*time.Minute)))
}

func TestPostgresGetOrCreateConverges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]bool{}
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, ok, err := s.Conversations().GetOrCreate(ctx, &models.Conversation{
				ID: fmt.Sprintf("c%d", i), Participants: models.OrderedPair("seller", "buyer"),
				ListingID: "l1", ListingTitle: "Title", CreatedAt: base, UpdatedAt: base,
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[conv.ID] = true
			if ok {
				created++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)

	// another listing is another conversation
	other, ok, err := s.Conversations().GetOrCreate(ctx, &models.Conversation{
		ID: "c-other", Participants: models.OrderedPair("seller", "buyer"), CreatedAt: base, UpdatedAt: base,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c-other", other.ID)
	assert.Nil(t, other.LastMessage)
	assert.Equal(t, map[string]int{"buyer": 0, "seller": 0}, other.Unread)

	convs, err := s.Conversations().ListForUser(ctx, "buyer")
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestPostgresAppendMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.Conversations().GetOrCreate(ctx, &models.Conversation{
		ID: "c1", Participants: models.OrderedPair("a", "b"), CreatedAt: base, UpdatedAt: base,
	})
	require.NoError(t, err)

	first, err := s.Conversations().AppendMessage(ctx, &models.Message{
		ID: "m1", ConversationID: "c1", SenderID: "a", Type: models.MessageText, Text: "Hello", CreatedAt: base.Add(time.Minute),
	}, "b")
	require.NoError(t, err)
	assert.Positive(t, first.Seq)

	// a sender clock behind the conversation is clamped to the last message
	late, err := s.Conversations().AppendMessage(ctx, &models.Message{
		ID: "m2", ConversationID: "c1", SenderID: "b", Type: models.MessageImage, ImageURL: "https://cdn.example.com/x.jpg", CreatedAt: base,
	}, "a")
	require.NoError(t, err)
	assert.True(t, late.CreatedAt.Equal(base.Add(time.Minute)))
	assert.Greater(t, late.Seq, first.Seq)

	conv, err := s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, conv.Unread)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "📷", conv.LastMessage.Text)
	assert.Equal(t, "b", conv.LastMessage.SenderID)
	assert.Equal(t, models.MessageImage, conv.LastMessage.Type)
	assert.True(t, conv.UpdatedAt.Equal(base.Add(time.Minute)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Conversations().AppendMessage(ctx, &models.Message{
				ID: fmt.Sprintf("burst-%d", i), ConversationID: "c1", SenderID: "a", Type: models.MessageText,
				Text: "ping", CreatedAt: base.Add(2 * time.Minute),
			}, "b")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	conv, err = s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 21, conv.Unread["b"])
	assert.Equal(t, 1, conv.Unread["a"])

	recent, err := s.Conversations().RecentMessages(ctx, "c1", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	for i := 1; i < len(recent); i++ {
		assert.Less(t, recent[i-1].Seq, recent[i].Seq)
	}

	require.NoError(t, s.Conversations().MarkRead(ctx, "c1", "b"))
	err = s.Conversations().MarkRead(ctx, "c1", "outsider")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	conv, err = s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 0}, conv.Unread)

	_, err = s.Conversations().AppendMessage(ctx, &models.Message{
		ID: "m-missing", ConversationID: "missing", SenderID: "a", Type: models.MessageText, Text: "x", CreatedAt: base,
	}, "b")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	require.NoError(t, s.Conversations().SetListingTitle(ctx, "c1", "New title"))
	conv, err = s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "New title", conv.ListingTitle)
}
