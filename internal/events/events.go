package events

import (
	"context"
	"strings"
	"sync"
)

// SubjectPrefix is the root of every change feed subject
const SubjectPrefix = "market"

// Topic is the kind of record that changed
type Topic string

const (
	TopicConversation Topic = "conversation"
	TopicUser         Topic = "user"
	TopicListings     Topic = "listings"
)

// Event tells live subscriptions that a record changed. It carries no payload,
// subscribers re-read the store.
type Event struct {
	Topic Topic  `json:"topic"`
	ID    string `json:"id,omitempty"`
}

// ConversationChanged is published when a conversation or its messages changed
func ConversationChanged(id string) Event { return Event{Topic: TopicConversation, ID: id} }

// UserChanged is published when the conversation list of a user changed
func UserChanged(id string) Event { return Event{Topic: TopicUser, ID: id} }

// ListingsChanged is published when any listing changed
func ListingsChanged() Event { return Event{Topic: TopicListings} }

// Subject returns the feed subject, e.g. market.conversation.<id>
func (e Event) Subject() string {
	if e.ID == "" {
		return SubjectPrefix + "." + string(e.Topic)
	}
	return SubjectPrefix + "." + string(e.Topic) + "." + e.ID
}

// ParseSubject is the inverse of Subject
func ParseSubject(subject string) (Event, bool) {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) < 2 || parts[0] != SubjectPrefix {
		return Event{}, false
	}
	ev := Event{Topic: Topic(parts[1])}
	if len(parts) == 3 {
		ev.ID = parts[2]
	}
	switch ev.Topic {
	case TopicConversation, TopicUser, TopicListings:
		return ev, true
	}
	return Event{}, false
}

// Handler receives events. It must not block.
type Handler func(Event)

// Bus is the change feed
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers h for every event and returns a function that removes it
	Subscribe(h Handler) (func(), error)
	Close()
}

// LocalBus delivers events inside one process
type LocalBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

// NewLocalBus creates an in-process bus
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]Handler)}
}

func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *LocalBus) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}, nil
}

func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[int]Handler)
}
