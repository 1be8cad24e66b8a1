package services

import (
	"sync"

	"services-market-backend/internal/models"
)

// Slot names a view that holds at most one live subscription
type Slot string

const (
	SlotMessages      Slot = "messages"
	SlotConversations Slot = "conversations"
	SlotListings      Slot = "listings"
)

func (s Slot) Valid() bool {
	return s == SlotMessages || s == SlotConversations || s == SlotListings
}

// Session is the per connection state of one signed in user
type Session struct {
	UserID string

	mu                   sync.Mutex
	closed               bool
	activeConversationID string
	slots                map[Slot]*Subscription
	conversations        []*models.Conversation
	messages             []*models.Message
}

// NewSession creates an empty session for userID
func NewSession(userID string) *Session {
	return &Session{
		UserID: userID,
		slots:  make(map[Slot]*Subscription),
	}
}

// Place cancels whatever occupies slot and then installs the subscription
// returned by start. The previous occupant delivers nothing after Place returns.
func (s *Session) Place(slot Slot, start func() *Subscription) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.slots[slot]
	delete(s.slots, slot)
	s.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	sub := start()

	s.mu.Lock()
	displaced := s.slots[slot]
	closed := s.closed
	if !closed {
		s.slots[slot] = sub
	}
	s.mu.Unlock()

	if displaced != nil {
		displaced.Cancel()
	}
	if closed {
		sub.Cancel()
	}
}

// Cancel ends the subscription in slot. It reports whether there was one.
func (s *Session) Cancel(slot Slot) bool {
	s.mu.Lock()
	sub := s.slots[slot]
	delete(s.slots, slot)
	if slot == SlotMessages {
		s.activeConversationID = ""
		s.messages = nil
	}
	s.mu.Unlock()

	if sub == nil {
		return false
	}
	sub.Cancel()
	return true
}

// Close cancels every slot. The session accepts no new subscriptions afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	subs := make([]*Subscription, 0, len(s.slots))
	for slot, sub := range s.slots {
		subs = append(subs, sub)
		delete(s.slots, slot)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// SetActiveConversation records the open conversation and drops cached messages of the previous one
func (s *Session) SetActiveConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConversationID != conversationID {
		s.messages = nil
	}
	s.activeConversationID = conversationID
}

func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeConversationID
}

// StoreConversations keeps the last delivered conversation list
func (s *Session) StoreConversations(convs []*models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = convs
}

func (s *Session) Conversations() []*models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations
}

// StoreMessages keeps the last delivered message list of the active conversation
func (s *Session) StoreMessages(conversationID string, messages []*models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversationID == s.activeConversationID {
		s.messages = messages
	}
}

func (s *Session) Messages() []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages
}
