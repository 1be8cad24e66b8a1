package services

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/events"
	"services-market-backend/internal/metrics"
	"services-market-backend/internal/models"
	"services-market-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const pushTimeout = 10 * time.Second

// Presence tells whether a user has a live connection
type Presence interface {
	IsOnline(userID string) bool
}

// ConversationService handles conversations and messages
type ConversationService struct {
	conversations repository.ConversationStore
	users         repository.UserStore
	listings      *ListingService
	bus           events.Bus
	metrics       *metrics.Metrics
	notifier      Notifier
	presence      Presence
	window        int
	maxLength     int
	now           func() time.Time
}

// NewConversationService creates a new conversation service.
// notifier and presence may be nil.
func NewConversationService(
	store repository.Store,
	listings *ListingService,
	bus events.Bus,
	m *metrics.Metrics,
	notifier Notifier,
	presence Presence,
	window, maxLength int,
) *ConversationService {
	return &ConversationService{
		conversations: store.Conversations(),
		users:         store.Users(),
		listings:      listings,
		bus:           bus,
		metrics:       m,
		notifier:      notifier,
		presence:      presence,
		window:        window,
		maxLength:     maxLength,
		now:           time.Now,
	}
}

// SetClock replaces the time source
func (s *ConversationService) SetClock(now func() time.Time) { s.now = now }

// GetOrCreateConversation returns the id of the conversation between seller and
// buyer about listingID, creating it on first contact. listingID may be empty.
func (s *ConversationService) GetOrCreateConversation(ctx context.Context, listingID, sellerID, buyerID string) (string, error) {
	conv, err := s.getOrCreate(ctx, listingID, sellerID, buyerID)
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

func (s *ConversationService) getOrCreate(ctx context.Context, listingID, sellerID, buyerID string) (*models.Conversation, error) {
	const op = "get or create conversation"
	if sellerID == "" || buyerID == "" {
		return nil, apperr.Validation(op, "seller and buyer are required")
	}
	if sellerID == buyerID {
		return nil, apperr.SelfContact(op)
	}

	now := s.now()
	pair := models.OrderedPair(sellerID, buyerID)
	conv, created, err := s.conversations.GetOrCreate(ctx, &models.Conversation{
		ID:           uuid.New().String(),
		Participants: pair,
		ListingID:    listingID,
		Unread:       map[string]int{pair[0]: 0, pair[1]: 0},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.metrics.ConversationsCreated.Inc()
		publish(ctx, s.bus, events.UserChanged(pair[0]), events.UserChanged(pair[1]))
		log.Info().
			Str("conversation_id", conv.ID).
			Str("listing_id", listingID).
			Str("buyer_id", buyerID).
			Msg("Conversation created")
	}
	return conv, nil
}

// ContactSeller opens the conversation between buyerID and the owner of a listing
func (s *ConversationService) ContactSeller(ctx context.Context, listingID, buyerID string) (*models.Conversation, error) {
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	conv, err := s.getOrCreate(ctx, listing.ID, listing.OwnerID, buyerID)
	if err != nil {
		return nil, err
	}

	if conv.ListingTitle != listing.Title {
		if err := s.conversations.SetListingTitle(ctx, conv.ID, listing.Title); err != nil {
			return nil, err
		}
		conv.ListingTitle = listing.Title
		publish(ctx, s.bus, events.UserChanged(conv.Participants[0]), events.UserChanged(conv.Participants[1]))
	}
	return conv, nil
}

// SendMessage appends a text message and bumps the recipient's unread counter
func (s *ConversationService) SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error) {
	const op = "send message"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation(op, "message text is required")
	}
	if s.maxLength > 0 && utf8.RuneCountInString(text) > s.maxLength {
		return nil, apperr.Validation(op, "message is longer than %d characters", s.maxLength)
	}
	return s.send(ctx, op, &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           models.MessageText,
		Text:           text,
	})
}

// SendImageMessage appends an image message
func (s *ConversationService) SendImageMessage(ctx context.Context, conversationID, senderID, imageURL string) (*models.Message, error) {
	const op = "send image"
	imageURL = strings.TrimSpace(imageURL)
	u, err := url.ParseRequestURI(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, apperr.Validation(op, "image url must be an absolute http(s) url")
	}
	return s.send(ctx, op, &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           models.MessageImage,
		ImageURL:       imageURL,
	})
}

func (s *ConversationService) send(ctx context.Context, op string, msg *models.Message) (*models.Message, error) {
	conv, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(msg.SenderID) {
		return nil, apperr.NotParticipant(op)
	}

	msg.ID = uuid.New().String()
	msg.CreatedAt = s.now()
	recipientID := conv.Other(msg.SenderID)

	stored, err := s.conversations.AppendMessage(ctx, msg, recipientID)
	if err != nil {
		return nil, err
	}

	s.metrics.MessagesSent.WithLabelValues(string(stored.Type)).Inc()
	publish(ctx, s.bus,
		events.ConversationChanged(conv.ID),
		events.UserChanged(conv.Participants[0]),
		events.UserChanged(conv.Participants[1]),
	)
	s.notify(conv, stored, recipientID)
	return stored, nil
}

// MarkRead resets the caller's unread counter. Calling it again is a no-op.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, userID string) error {
	if _, err := s.participantOf(ctx, "mark read", conversationID, userID); err != nil {
		return err
	}
	if err := s.conversations.MarkRead(ctx, conversationID, userID); err != nil {
		return err
	}
	publish(ctx, s.bus, events.UserChanged(userID))
	return nil
}

// ListMessages returns the most recent messages of a conversation, oldest first
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, userID string) ([]*models.Message, error) {
	if _, err := s.participantOf(ctx, "list messages", conversationID, userID); err != nil {
		return nil, err
	}
	messages, err := s.conversations.RecentMessages(ctx, conversationID, s.window)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return messages, nil
}

// ListConversations returns the user's conversations, most recently updated first
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

func (s *ConversationService) participantOf(ctx context.Context, op, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.NotParticipant(op)
	}
	return conv, nil
}

// notify pushes an alert to a recipient that has no live connection
func (s *ConversationService) notify(conv *models.Conversation, msg *models.Message, recipientID string) {
	if s.notifier == nil {
		return
	}
	if s.presence != nil && s.presence.IsOnline(recipientID) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()

		recipient, err := s.users.GetProfile(ctx, recipientID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", recipientID).Msg("Failed to load push recipient")
			return
		}
		if recipient.PushToken == nil {
			return
		}

		title := "New message"
		if sender, err := s.users.GetProfile(ctx, msg.SenderID); err == nil && sender.Name != "" {
			title = sender.Name
		}
		push := PushNotification{
			Title:          title,
			Subtitle:       conv.ListingTitle,
			Body:           msg.Preview(),
			ConversationID: conv.ID,
		}
		if err := s.notifier.Notify(ctx, *recipient.PushToken, push); err != nil {
			log.Warn().Err(err).Str("user_id", recipientID).Msg("Failed to send push notification")
		}
	}()
}
