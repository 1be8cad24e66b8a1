// Package memory keeps all marketplace data in process. It backs the "memory"
// database driver and the service tests, and mirrors the transactional
// behaviour of the PostgreSQL repositories.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/models"
	"services-market-backend/internal/repository"
)

// Store is an in-memory repository.Store
type Store struct {
	mu            sync.Mutex
	users         map[string]*models.User
	profiles      map[string]*models.Profile
	listings      map[string]*models.Listing
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	seq           int64

	// failWith, when set, fails every read and transactional write
	failWith error
}

// New creates an empty store
func New() *Store {
	return &Store{
		users:         make(map[string]*models.User),
		profiles:      make(map[string]*models.Profile),
		listings:      make(map[string]*models.Listing),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
	}
}

func (s *Store) Users() repository.UserStore                 { return (*users)(s) }
func (s *Store) Listings() repository.ListingStore           { return (*listings)(s) }
func (s *Store) Conversations() repository.ConversationStore { return (*conversations)(s) }
func (s *Store) Ping(ctx context.Context) error              { return nil }
func (s *Store) Close()                                      {}

// SetFailure switches simulated backend failures on (non-nil) or off
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *Store) failure(op string) error {
	if s.failWith != nil {
		return apperr.Unavailable(op, s.failWith)
	}
	return nil
}

type users Store

func (u *users) CreateWithProfile(ctx context.Context, user *models.User, profile *models.Profile) error {
	s := (*Store)(u)
	if err := profile.Validate(); err != nil {
		return apperr.Validation("create user", "%v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return apperr.Validation("create user", "user %s already exists", user.ID)
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return apperr.Validation("create user", "email %s is already registered", user.Email)
		}
	}
	uc := *user
	s.users[user.ID] = &uc
	s.profiles[profile.UserID] = copyProfile(profile)
	return nil
}

func (u *users) GetByID(ctx context.Context, id string) (*models.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("get user"); err != nil {
		return nil, err
	}
	user, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("get user", "user")
	}
	uc := *user
	return &uc, nil
}

func (u *users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("get user"); err != nil {
		return nil, err
	}
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			uc := *user
			return &uc, nil
		}
	}
	return nil, apperr.NotFound("get user", "user")
}

func (u *users) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("get profile"); err != nil {
		return nil, err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("get profile", "profile")
	}
	return copyProfile(p), nil
}

func (u *users) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	s := (*Store)(u)
	if err := profile.Validate(); err != nil {
		return apperr.Validation("update profile", "%v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profile.UserID]
	if !ok {
		return apperr.NotFound("update profile", "profile")
	}
	p.Name = profile.Name
	p.FirstName = profile.FirstName
	p.LastName = profile.LastName
	p.Phone = profile.Phone
	p.BirthDate = profile.BirthDate
	p.Company = copyProfile(profile).Company
	return nil
}

func (u *users) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return apperr.NotFound("update push token", "profile")
	}
	if pushToken == nil {
		p.PushToken = nil
	} else {
		token := *pushToken
		p.PushToken = &token
	}
	return nil
}

func (u *users) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("list profiles"); err != nil {
		return nil, err
	}
	out := make([]*models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, copyProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type listings Store

func (l *listings) Create(ctx context.Context, listing *models.Listing) error {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.listings[listing.ID]; exists {
		return apperr.Validation("create listing", "listing %s already exists", listing.ID)
	}
	s.listings[listing.ID] = copyListing(listing)
	return nil
}

func (l *listings) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("get listing"); err != nil {
		return nil, err
	}
	listing, ok := s.listings[id]
	if !ok {
		return nil, apperr.NotFound("get listing", "listing")
	}
	return copyListing(listing), nil
}

func (l *listings) Update(ctx context.Context, listing *models.Listing) error {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.listings[listing.ID]
	if !ok {
		return apperr.NotFound("update listing", "listing")
	}
	next := copyListing(listing)
	// boost fields belong to PurchaseBoost and ExpireBoost
	next.IsTop = stored.IsTop
	next.TopPurchasedAt = stored.TopPurchasedAt
	next.TopExpiresAt = stored.TopExpiresAt
	next.TopExpiredAt = stored.TopExpiredAt
	next.OwnerID = stored.OwnerID
	next.OwnerEmail = stored.OwnerEmail
	next.CreatedAt = stored.CreatedAt
	s.listings[listing.ID] = next
	return nil
}

func (l *listings) Delete(ctx context.Context, id string) error {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[id]; !ok {
		return apperr.NotFound("delete listing", "listing")
	}
	delete(s.listings, id)
	return nil
}

func (l *listings) List(ctx context.Context, q repository.ListingQuery) ([]*models.Listing, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("list listings"); err != nil {
		return nil, err
	}
	var out []*models.Listing
	for _, listing := range s.listings {
		if q.OwnerID != "" && listing.OwnerID != q.OwnerID {
			continue
		}
		if q.Status != "" && listing.Status != q.Status {
			continue
		}
		if q.Category != "" && listing.Category != q.Category {
			continue
		}
		if q.OnlyTop && !listing.IsTop {
			continue
		}
		out = append(out, copyListing(listing))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (l *listings) PurchaseBoost(ctx context.Context, p repository.BoostPurchase) (*models.Listing, int64, error) {
	const op = "purchase boost"
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(op); err != nil {
		return nil, 0, err
	}

	listing, ok := s.listings[p.ListingID]
	if !ok {
		return nil, 0, apperr.NotFound(op, "listing")
	}
	if listing.OwnerID != p.OwnerID {
		return nil, 0, apperr.NotOwner(op)
	}
	if listing.IsTop {
		return nil, 0, apperr.Validation(op, "listing is already boosted")
	}
	profile, ok := s.profiles[p.OwnerID]
	if !ok {
		return nil, 0, apperr.NotFound(op, "profile")
	}
	if profile.Balance < p.Cost {
		return nil, 0, apperr.InsufficientBalance(op, profile.Balance, p.Cost)
	}

	now, expires := p.Now, p.ExpiresAt
	profile.Balance -= p.Cost
	profile.LastBalanceUpdate = &now
	profile.BalanceUpdateReason = p.Reason
	listing.IsTop = true
	listing.TopPurchasedAt = &now
	listing.TopExpiresAt = &expires
	listing.TopExpiredAt = nil
	return copyListing(listing), profile.Balance, nil
}

func (l *listings) ExpireBoost(ctx context.Context, id string, now time.Time) (bool, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("expire boost"); err != nil {
		return false, err
	}
	listing, ok := s.listings[id]
	if !ok || !listing.BoostExpired(now) {
		return false, nil
	}
	listing.IsTop = false
	listing.TopExpiredAt = &now
	return true, nil
}

type conversations Store

func (c *conversations) GetOrCreate(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	const op = "get or create conversation"
	if err := conv.Validate(); err != nil {
		return nil, false, apperr.Validation(op, "%v", err)
	}
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(op); err != nil {
		return nil, false, err
	}

	for _, existing := range s.conversations {
		if existing.Participants == conv.Participants && existing.ListingID == conv.ListingID {
			return copyConversation(existing), false, nil
		}
	}
	stored := copyConversation(conv)
	stored.Unread = map[string]int{conv.Participants[0]: 0, conv.Participants[1]: 0}
	s.conversations[conv.ID] = stored
	return copyConversation(stored), true, nil
}

func (c *conversations) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("get conversation"); err != nil {
		return nil, err
	}
	conv, ok := s.conversations[id]
	if !ok {
		return nil, apperr.NotFound("get conversation", "conversation")
	}
	return copyConversation(conv), nil
}

func (c *conversations) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("list conversations"); err != nil {
		return nil, err
	}
	var out []*models.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, copyConversation(conv))
		}
	}
	return out, nil
}

func (c *conversations) SetListingTitle(ctx context.Context, id, title string) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return apperr.NotFound("set listing title", "conversation")
	}
	conv.ListingTitle = title
	return nil
}

func (c *conversations) AppendMessage(ctx context.Context, msg *models.Message, recipientID string) (*models.Message, error) {
	const op = "append message"
	if err := msg.Validate(); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(op); err != nil {
		return nil, err
	}

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, apperr.NotFound(op, "conversation")
	}
	stored := *msg
	if conv.LastMessage != nil && conv.LastMessage.At.After(stored.CreatedAt) {
		stored.CreatedAt = conv.LastMessage.At
	}
	s.seq++
	stored.Seq = s.seq
	s.messages[conv.ID] = append(s.messages[conv.ID], &stored)

	conv.LastMessage = &models.LastMessage{
		Text:     stored.Preview(),
		SenderID: stored.SenderID,
		Type:     stored.Type,
		At:       stored.CreatedAt,
	}
	conv.UpdatedAt = stored.CreatedAt
	if conv.HasParticipant(recipientID) {
		conv.Unread[recipientID]++
	}
	out := stored
	return &out, nil
}

func (c *conversations) MarkRead(ctx context.Context, id, userID string) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || !conv.HasParticipant(userID) {
		return apperr.NotFound("mark read", "conversation")
	}
	conv.Unread[userID] = 0
	return nil
}

func (c *conversations) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("recent messages"); err != nil {
		return nil, err
	}
	all := s.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*models.Message, 0, len(all))
	for _, m := range all {
		mc := *m
		out = append(out, &mc)
	}
	return out, nil
}

func copyProfile(p *models.Profile) *models.Profile {
	pc := *p
	if p.Company != nil {
		company := *p.Company
		pc.Company = &company
	}
	if p.PushToken != nil {
		token := *p.PushToken
		pc.PushToken = &token
	}
	return &pc
}

func copyListing(l *models.Listing) *models.Listing {
	lc := *l
	lc.Images = append([]models.Image(nil), l.Images...)
	return &lc
}

func copyConversation(c *models.Conversation) *models.Conversation {
	cc := *c
	cc.Unread = make(map[string]int, len(c.Unread))
	for k, v := range c.Unread {
		cc.Unread[k] = v
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cc.LastMessage = &lm
	}
	return &cc
}
