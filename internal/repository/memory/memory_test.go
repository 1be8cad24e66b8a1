package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/models"
	"services-market-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store, balance int64) *models.Listing {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Users().CreateWithProfile(ctx,
		&models.User{ID: "owner", Email: "owner@example.com", Kind: models.AccountPerson},
		&models.Profile{UserID: "owner", Email: "owner@example.com", Kind: models.AccountPerson, Balance: balance},
	))
	listing := &models.Listing{
		ID: "l1", OwnerID: "owner", Title: "Title", Category: models.CategoryHome,
		Description: "Description", Location: "Ostrava", Status: models.StatusActive, CreatedAt: now,
	}
	require.NoError(t, s.Listings().Create(ctx, listing))
	return listing
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	seed(t, s, 0)
	ctx := context.Background()

	got, err := s.Listings().GetByID(ctx, "l1")
	require.NoError(t, err)
	got.Title = "changed"
	got.IsTop = true

	again, err := s.Listings().GetByID(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "Title", again.Title)
	assert.False(t, again.IsTop)
}

func TestConcurrentPurchasesDebitOnce(t *testing.T) {
	s := New()
	seed(t, s, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Listings().PurchaseBoost(context.Background(), repository.BoostPurchase{
				ListingID: "l1", OwnerID: "owner", Cost: 100, Reason: "boost purchase", Now: now, ExpiresAt: now.Add(time.Hour),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	profile, err := s.Users().GetProfile(context.Background(), "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(900), profile.Balance)
}

func TestExpireBoostOnlyOnce(t *testing.T) {
	s := New()
	seed(t, s, 1000)
	ctx := context.Background()

	_, _, err := s.Listings().PurchaseBoost(ctx, repository.BoostPurchase{
		ListingID: "l1", OwnerID: "owner", Cost: 0, Now: now, ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	changed, err := s.Listings().ExpireBoost(ctx, "l1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Listings().ExpireBoost(ctx, "l1", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Listings().ExpireBoost(ctx, "l1", now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Listings().ExpireBoost(ctx, "missing", now)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSetFailure(t *testing.T) {
	s := New()
	seed(t, s, 0)
	ctx := context.Background()

	s.SetFailure(errors.New("disk on fire"))
	_, err := s.Listings().GetByID(ctx, "l1")
	assert.True(t, errors.Is(err, apperr.ErrBackendUnavailable))
	_, err = s.Conversations().ListForUser(ctx, "owner")
	assert.True(t, errors.Is(err, apperr.ErrBackendUnavailable))

	s.SetFailure(nil)
	_, err = s.Listings().GetByID(ctx, "l1")
	assert.NoError(t, err)
}

func TestMarkReadRequiresParticipant(t *testing.T) {
	s := New()
	ctx := context.Background()
	conv, created, err := s.Conversations().GetOrCreate(ctx, &models.Conversation{
		ID: "c1", Participants: models.OrderedPair("a", "b"), CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, map[string]int{"a": 0, "b": 0}, conv.Unread)

	_, err = s.Conversations().AppendMessage(ctx, &models.Message{
		ID: "m1", ConversationID: "c1", SenderID: "a", Type: models.MessageText, Text: "hi", CreatedAt: now,
	}, "b")
	require.NoError(t, err)

	err = s.Conversations().MarkRead(ctx, "c1", "c")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	require.NoError(t, s.Conversations().MarkRead(ctx, "c1", "b"))
	conv, err = s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread["b"])
}
