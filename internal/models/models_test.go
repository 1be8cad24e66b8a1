package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validListing() *Listing {
	return &Listing{
		OwnerID:     "u1",
		Title:       "Plumbing",
		Category:    CategoryHome,
		Description: "Fixing pipes",
		Location:    "Brno",
		Status:      StatusActive,
	}
}

func TestListingValidate(t *testing.T) {
	assert.NoError(t, validListing().Validate())

	l := validListing()
	l.Title = "  "
	assert.Error(t, l.Validate())

	l = validListing()
	l.Category = "gardening"
	assert.Error(t, l.Validate())

	l = validListing()
	l.IsTop = true
	assert.Error(t, l.Validate(), "boost without expiry must be rejected")
}

func TestBoostExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	l := validListing()
	assert.False(t, l.BoostExpired(now))

	l.IsTop, l.TopExpiresAt = true, &past
	assert.True(t, l.BoostExpired(now))

	l.TopExpiresAt = &future
	assert.False(t, l.BoostExpired(now))

	l.TopExpiresAt = &now
	assert.False(t, l.BoostExpired(now), "expiry is strict")
}

func TestConversationParticipants(t *testing.T) {
	pair := OrderedPair("seller", "buyer")
	assert.Equal(t, [2]string{"buyer", "seller"}, pair)

	c := &Conversation{Participants: pair}
	assert.NoError(t, c.Validate())
	assert.True(t, c.HasParticipant("seller"))
	assert.False(t, c.HasParticipant("stranger"))
	assert.False(t, c.HasParticipant(""))
	assert.Equal(t, "seller", c.Other("buyer"))

	c.Participants = [2]string{"a", "a"}
	assert.Error(t, c.Validate())
}

func TestProfileValidate(t *testing.T) {
	p := &Profile{UserID: "u1", Email: "a@b.cz", Kind: AccountCompany}
	assert.Error(t, p.Validate())

	p.Company = &Company{Name: "ACME s.r.o."}
	assert.NoError(t, p.Validate())

	token := "device"
	p.PushToken = &token
	p.Balance = 700
	pub := p.Public()
	assert.Zero(t, pub.Balance)
	assert.Nil(t, pub.PushToken)
	assert.Equal(t, int64(700), p.Balance)
}
