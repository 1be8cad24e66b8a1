package services

import (
	"context"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/models"
	"services-market-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

const boostReason = "boost purchase"

// BoostReceipt is the result of a successful purchase
type BoostReceipt struct {
	Listing *models.Listing `json:"listing"`
	Balance int64           `json:"balance"`
}

// PurchaseBoost debits cost from the owner and pins the listing for duration.
// Debit and flag are applied together or not at all.
func (s *ListingService) PurchaseBoost(ctx context.Context, listingID, ownerID string, cost int64, duration time.Duration) (*BoostReceipt, error) {
	const op = "purchase boost"
	if cost < 0 {
		return nil, apperr.Validation(op, "boost cost must not be negative")
	}
	if duration <= 0 {
		return nil, apperr.Validation(op, "boost duration must be positive")
	}

	now := s.now()
	listing, balance, err := s.listings.PurchaseBoost(ctx, repository.BoostPurchase{
		ListingID: listingID,
		OwnerID:   ownerID,
		Cost:      cost,
		Reason:    boostReason,
		Now:       now,
		ExpiresAt: now.Add(duration),
	})
	if err != nil {
		return nil, err
	}
	s.metrics.BoostsPurchased.Inc()
	s.changed(ctx, listingID)

	log.Info().
		Str("listing_id", listingID).
		Str("owner_id", ownerID).
		Int64("cost", cost).
		Int64("balance", balance).
		Time("expires_at", now.Add(duration)).
		Msg("Boost purchased")

	return &BoostReceipt{Listing: listing, Balance: balance}, nil
}

// SweepScope selects the listings a sweep looks at. Zero value means all.
type SweepScope struct {
	OwnerID string
}

// SweepExpiredBoosts clears every boost that ran out and reports how many
// this call cleared. Concurrent sweeps never clear a listing twice.
func (s *ListingService) SweepExpiredBoosts(ctx context.Context, scope SweepScope) (int, error) {
	candidates, err := s.listings.List(ctx, repository.ListingQuery{OwnerID: scope.OwnerID, OnlyTop: true})
	if err != nil {
		return 0, err
	}

	now := s.now()
	expired := 0
	for _, listing := range candidates {
		if !listing.BoostExpired(now) {
			continue
		}
		ok, err := s.expire(ctx, listing, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *ListingService) expire(ctx context.Context, listing *models.Listing, now time.Time) (bool, error) {
	ok, err := s.listings.ExpireBoost(ctx, listing.ID, now)
	if err != nil {
		return false, err
	}
	listing.IsTop = false
	if ok {
		listing.TopExpiredAt = &now
		s.metrics.BoostsExpired.Inc()
		s.changed(ctx, listing.ID)
		log.Info().Str("listing_id", listing.ID).Msg("Boost expired")
	}
	return ok, nil
}

// BoostTimeRemaining returns the whole minutes left on a boost, rounded up.
// active is false when the listing is not boosted or the boost ran out.
func BoostTimeRemaining(listing *models.Listing, now time.Time) (minutes int, active bool) {
	if !listing.IsTop || listing.TopExpiresAt == nil {
		return 0, false
	}
	left := listing.TopExpiresAt.Sub(now)
	if left <= 0 {
		return 0, false
	}
	return int((left + time.Minute - 1) / time.Minute), true
}

// BoostSweeper runs SweepExpiredBoosts on a fixed interval
type BoostSweeper struct {
	listings *ListingService
	interval time.Duration
}

// NewBoostSweeper creates a sweeper
func NewBoostSweeper(listings *ListingService, interval time.Duration) *BoostSweeper {
	return &BoostSweeper{listings: listings, interval: interval}
}

// Run sweeps once immediately and then every interval until ctx is done.
// A failed sweep is logged and retried on the next tick.
func (b *BoostSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		expired, err := b.listings.SweepExpiredBoosts(ctx, SweepScope{})
		if err != nil {
			log.Error().Err(err).Msg("Boost sweep failed")
		} else if expired > 0 {
			log.Info().Int("expired", expired).Msg("Boost sweep finished")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
