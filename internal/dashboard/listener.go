package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/stwalsh4118/inspections/api/internal/logger"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// SubscriptionState tracks the change-feed subscription of one dashboard.
type SubscriptionState int

const (
	Unsubscribed SubscriptionState = iota
	Subscribing
	Subscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

// changeListener holds at most one subscription to the change feed. Once
// stopped it never subscribes again.
type changeListener struct {
	feed     ChangeFeed
	channel  string
	replayID int64
	onEvent  func(models.ChangeEvent)
	log      *logger.Logger

	mu      sync.Mutex
	state   SubscriptionState
	handle  Subscription
	stopped bool
}

func newChangeListener(feed ChangeFeed, channel string, replayID int64, onEvent func(models.ChangeEvent), log *logger.Logger) *changeListener {
	return &changeListener{
		feed:     feed,
		channel:  channel,
		replayID: replayID,
		onEvent:  onEvent,
		log:      log,
	}
}

// State returns the current subscription state.
func (l *changeListener) State() SubscriptionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start subscribes unless a subscription is pending, held, or the listener
// was stopped; those cases are no-ops.
func (l *changeListener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != Unsubscribed || l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.state = Subscribing
	l.mu.Unlock()

	handle, err := l.feed.Subscribe(ctx, l.channel, l.replayID, l.deliver)

	l.mu.Lock()
	if err != nil {
		l.state = Unsubscribed
		l.mu.Unlock()
		l.log.Error("Failed to subscribe to change feed", err, map[string]interface{}{
			"channel": l.channel,
		})
		return fmt.Errorf("subscribe to %s: %w", l.channel, err)
	}
	if l.stopped {
		// Stopped while the subscribe was in flight; release right away.
		l.state = Unsubscribed
		l.mu.Unlock()
		if err := l.feed.Unsubscribe(ctx, handle); err != nil {
			l.log.Error("Failed to release late subscription", err, map[string]interface{}{
				"channel": l.channel,
			})
		}
		return nil
	}
	l.handle = handle
	l.state = Subscribed
	l.mu.Unlock()

	l.log.Info("Subscribed to change feed", map[string]interface{}{
		"channel":   handle.Channel(),
		"replay_id": l.replayID,
	})
	return nil
}

// Stop releases the subscription if one is held. It is terminal.
func (l *changeListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.stopped = true
	handle := l.handle
	l.mu.Unlock()

	if handle == nil {
		return nil
	}

	err := l.feed.Unsubscribe(ctx, handle)

	l.mu.Lock()
	l.handle = nil
	l.state = Unsubscribed
	l.mu.Unlock()

	if err != nil {
		l.log.Error("Failed to unsubscribe from change feed", err, map[string]interface{}{
			"channel": l.channel,
		})
		return fmt.Errorf("unsubscribe from %s: %w", l.channel, err)
	}
	l.log.Info("Unsubscribed from change feed", map[string]interface{}{
		"channel": l.channel,
	})
	return nil
}

// deliver forwards an event while subscribed. Panics in the handler are
// logged and never reach the feed.
func (l *changeListener) deliver(event models.ChangeEvent) {
	l.mu.Lock()
	active := l.state == Subscribed && !l.stopped
	l.mu.Unlock()
	if !active {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Change event handler panicked", fmt.Errorf("panic: %v", r), map[string]interface{}{
				"channel":   l.channel,
				"replay_id": event.ReplayID,
			})
		}
	}()
	l.onEvent(event)
}
