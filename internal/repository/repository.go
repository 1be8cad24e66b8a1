package repository

import (
	"context"
	"time"

	"services-market-backend/internal/models"
)

// UserStore persists accounts and their profiles
type UserStore interface {
	// CreateWithProfile stores the user and its profile atomically
	CreateWithProfile(ctx context.Context, user *models.User, profile *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, profile *models.Profile) error
	UpdatePushToken(ctx context.Context, userID string, pushToken *string) error
	ListProfiles(ctx context.Context) ([]*models.Profile, error)
}

// ListingQuery narrows listing reads. Zero value means all listings.
type ListingQuery struct {
	OwnerID  string
	Status   models.ListingStatus
	OnlyTop  bool
	Category models.Category
}

// BoostPurchase describes one debit-and-flag operation
type BoostPurchase struct {
	ListingID string
	OwnerID   string
	Cost      int64
	Reason    string
	Now       time.Time
	ExpiresAt time.Time
}

// ListingStore persists listings and the boost lifecycle
type ListingStore interface {
	Create(ctx context.Context, listing *models.Listing) error
	GetByID(ctx context.Context, id string) (*models.Listing, error)
	Update(ctx context.Context, listing *models.Listing) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q ListingQuery) ([]*models.Listing, error)
	// PurchaseBoost debits the owner and flags the listing in one transaction.
	// It returns the boosted listing and the new balance.
	PurchaseBoost(ctx context.Context, p BoostPurchase) (*models.Listing, int64, error)
	// ExpireBoost clears the flag only if it is still set and overdue at now.
	// It reports whether this call changed the listing.
	ExpireBoost(ctx context.Context, id string, now time.Time) (bool, error)
}

// ConversationStore persists conversations and their messages
type ConversationStore interface {
	// GetOrCreate returns the conversation with the same participants and listing,
	// creating conv when none exists. created reports which happened.
	GetOrCreate(ctx context.Context, conv *models.Conversation) (result *models.Conversation, created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error)
	SetListingTitle(ctx context.Context, id, title string) error
	// AppendMessage stores msg and updates the conversation preview, updatedAt and the
	// recipient's unread counter in one transaction. The stored timestamp never goes
	// below the previous message of the conversation.
	AppendMessage(ctx context.Context, msg *models.Message, recipientID string) (*models.Message, error)
	MarkRead(ctx context.Context, id, userID string) error
	// RecentMessages returns up to limit newest messages in ascending order
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
}

// Store bundles all repositories behind one backend
type Store interface {
	Users() UserStore
	Listings() ListingStore
	Conversations() ConversationStore
	Ping(ctx context.Context) error
	Close()
}
