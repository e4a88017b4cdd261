package changefeed

import (
	"context"
	"sync"

	"github.com/stwalsh4118/inspections/api/internal/dashboard"
	"github.com/stwalsh4118/inspections/api/internal/logger"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// DefaultRetention is the number of events the in-memory feed keeps per
// channel for replay.
const DefaultRetention = 256

type memorySubscription struct {
	channel string
	handler func(models.ChangeEvent)
}

// Memory is an in-process ChangeFeed. Publish assigns increasing replay ids
// per channel, runs each subscriber's handler on its own goroutine and
// returns once every handler has finished.
//
// A bounded history per channel serves replay: ReplayLatest delivers only
// new events, ReplayEarliest replays everything retained, and a
// non-negative id replays every retained event after it.
type Memory struct {
	sink      *errorSink
	retention int

	mu       sync.RWMutex
	closed   bool
	nextID   uint64
	subs     map[uint64]*memorySubscription
	history  map[string][]models.ChangeEvent
	replayID map[string]int64
}

// NewMemory creates an in-memory feed. retention <= 0 uses DefaultRetention.
func NewMemory(retention int, log *logger.Logger) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Memory{
		sink:      &errorSink{log: orDiscard(log).Component("changefeed.memory")},
		retention: retention,
		subs:      make(map[uint64]*memorySubscription),
		history:   make(map[string][]models.ChangeEvent),
		replayID:  make(map[string]int64),
	}
}

// Subscribe registers handler on channel and replays retained events as
// requested by replayID before returning.
func (m *Memory) Subscribe(ctx context.Context, channel string, replayID int64, handler func(models.ChangeEvent)) (dashboard.Subscription, error) {
	if err := validateSubscribe(channel, handler); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.nextID++
	id := m.nextID
	m.subs[id] = &memorySubscription{channel: channel, handler: handler}
	backlog := replayable(m.history[channel], replayID)
	m.mu.Unlock()

	for _, event := range backlog {
		dispatch(m.sink, handler, event)
	}
	return &handle{id: id, channel: channel}, nil
}

// Unsubscribe removes a subscription. Unknown handles are an error.
func (m *Memory) Unsubscribe(ctx context.Context, sub dashboard.Subscription) error {
	id, err := handleID(sub)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrUnknownSubscription
	}
	delete(m.subs, id)
	return nil
}

// OnError installs the error callback. Handler panics are reported to it.
func (m *Memory) OnError(handler func(error)) {
	m.sink.set(handler)
}

// Publish stamps event with the next replay id of its channel, retains it
// and delivers it to every subscriber of that channel.
func (m *Memory) Publish(ctx context.Context, event models.ChangeEvent) error {
	if event.Channel == "" {
		return ErrChannelRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.replayID[event.Channel]++
	event.ReplayID = m.replayID[event.Channel]

	history := append(m.history[event.Channel], event)
	if len(history) > m.retention {
		history = history[len(history)-m.retention:]
	}
	m.history[event.Channel] = history

	var handlers []func(models.ChangeEvent)
	for _, sub := range m.subs {
		if sub.channel == event.Channel {
			handlers = append(handlers, sub.handler)
		}
	}
	m.mu.Unlock()

	if len(handlers) == 1 {
		dispatch(m.sink, handlers[0], event)
		return nil
	}
	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(handler func(models.ChangeEvent)) {
			defer wg.Done()
			dispatch(m.sink, handler, event)
		}(handler)
	}
	wg.Wait()
	return nil
}

// Subscribers returns the number of live subscriptions on channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, sub := range m.subs {
		if sub.channel == channel {
			n++
		}
	}
	return n
}

// Close drops every subscription. Later calls to Subscribe and Publish fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[uint64]*memorySubscription)
	return nil
}

// replayable selects the retained events a new subscriber should receive.
func replayable(history []models.ChangeEvent, replayID int64) []models.ChangeEvent {
	switch {
	case replayID == models.ReplayEarliest:
		out := make([]models.ChangeEvent, len(history))
		copy(out, history)
		return out
	case replayID < 0:
		return nil
	}

	var out []models.ChangeEvent
	for _, event := range history {
		if event.ReplayID > replayID {
			out = append(out, event)
		}
	}
	return out
}
