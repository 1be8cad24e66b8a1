package services

import (
	"context"
	"sync"

	"services-market-backend/internal/events"
	"services-market-backend/internal/metrics"
	"services-market-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// publish sends change events after a successful write. A failed publish only
// delays live views, so it is logged and not returned.
func publish(ctx context.Context, bus events.Bus, evs ...events.Event) {
	for _, ev := range evs {
		if err := bus.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("subject", ev.Subject()).Msg("Failed to publish change event")
		}
	}
}

// Subscription is one live query. Its callbacks run on a dedicated goroutine,
// one at a time.
type Subscription struct {
	matches func(events.Event) bool
	dirty   chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *Subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Cancel stops the subscription and waits until no callback is running.
// It must not be called from inside the subscription's own callbacks.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has ended
func (s *Subscription) Done() <-chan struct{} { return s.done }

// LiveQueries re-runs queries whenever the change feed reports a relevant change
type LiveQueries struct {
	conversations *ConversationService
	listings      *ListingService
	metrics       *metrics.Metrics

	mu          sync.Mutex
	subs        map[*Subscription]struct{}
	unsubscribe func()
}

// NewLiveQueries attaches to the change feed
func NewLiveQueries(bus events.Bus, conversations *ConversationService, listings *ListingService, m *metrics.Metrics) (*LiveQueries, error) {
	lq := &LiveQueries{
		conversations: conversations,
		listings:      listings,
		metrics:       m,
		subs:          make(map[*Subscription]struct{}),
	}
	unsubscribe, err := bus.Subscribe(lq.dispatch)
	if err != nil {
		return nil, err
	}
	lq.unsubscribe = unsubscribe
	return lq, nil
}

func (lq *LiveQueries) dispatch(ev events.Event) {
	lq.mu.Lock()
	defer lq.mu.Unlock()
	for sub := range lq.subs {
		if sub.matches(ev) {
			sub.markDirty()
		}
	}
}

// Close detaches from the feed and cancels every subscription
func (lq *LiveQueries) Close() {
	lq.unsubscribe()

	lq.mu.Lock()
	subs := make([]*Subscription, 0, len(lq.subs))
	for sub := range lq.subs {
		subs = append(subs, sub)
	}
	lq.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// SubscribeMessages delivers the recent messages of a conversation, oldest
// first, on subscribe and after every change. userID must be a participant.
func (lq *LiveQueries) SubscribeMessages(conversationID, userID string, onUpdate func([]*models.Message), onError func(error)) *Subscription {
	return subscribe(lq,
		func(ev events.Event) bool {
			return ev.Topic == events.TopicConversation && ev.ID == conversationID
		},
		func(ctx context.Context) ([]*models.Message, error) {
			return lq.conversations.ListMessages(ctx, conversationID, userID)
		},
		onUpdate, onError)
}

// SubscribeConversationsFor delivers the user's conversations, most recently updated first
func (lq *LiveQueries) SubscribeConversationsFor(userID string, onUpdate func([]*models.Conversation), onError func(error)) *Subscription {
	return subscribe(lq,
		func(ev events.Event) bool {
			return ev.Topic == events.TopicUser && ev.ID == userID
		},
		func(ctx context.Context) ([]*models.Conversation, error) {
			return lq.conversations.ListConversations(ctx, userID)
		},
		onUpdate, onError)
}

// SubscribeListings delivers browse results for f after every listing change
func (lq *LiveQueries) SubscribeListings(f BrowseFilter, onUpdate func([]*models.Listing), onError func(error)) *Subscription {
	return subscribe(lq,
		func(ev events.Event) bool {
			return ev.Topic == events.TopicListings
		},
		func(ctx context.Context) ([]*models.Listing, error) {
			return lq.listings.Browse(ctx, f)
		},
		onUpdate, onError)
}

// subscribe starts the refresh loop. The first refresh runs immediately. A
// failed refresh reports onError once and ends the subscription without
// delivering anything in place of the last good result.
func subscribe[T any](lq *LiveQueries, matches func(events.Event) bool, query func(context.Context) (T, error), onUpdate func(T), onError func(error)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		matches: matches,
		dirty:   make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	sub.markDirty()

	lq.mu.Lock()
	lq.subs[sub] = struct{}{}
	lq.mu.Unlock()
	lq.metrics.LiveSubscriptions.Inc()

	go func() {
		defer close(sub.done)
		defer func() {
			cancel()
			lq.mu.Lock()
			delete(lq.subs, sub)
			lq.mu.Unlock()
			lq.metrics.LiveSubscriptions.Dec()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.dirty:
			}

			result, err := query(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				onError(err)
				return
			}
			onUpdate(result)
		}
	}()
	return sub
}
