// Package events fans dashboard UI effects (toasts, navigation requests and
// view invalidations) out to connected browsers and keeps a short backlog
// for clients that reconnect.
package events

import (
	"io"
	"sync"
	"time"

	"github.com/stwalsh4118/inspections/api/internal/dashboard"
	"github.com/stwalsh4118/inspections/api/internal/logger"
)

// Kind identifies the effect an Event carries.
type Kind string

// Event kinds.
const (
	KindToast    Kind = "toast"
	KindNavigate Kind = "navigate"
	KindView     Kind = "view"
)

// subscriberBuffer is the per-subscriber queue length. A subscriber that
// falls this far behind is dropped.
const subscriberBuffer = 64

// Event is one UI effect.
type Event struct {
	Seq         uint64                       `json:"seq"`
	Kind        Kind                         `json:"kind"`
	DashboardID string                       `json:"dashboardId"`
	Time        time.Time                    `json:"time"`
	Toast       *dashboard.Toast             `json:"toast,omitempty"`
	Navigation  *dashboard.NavigationRequest `json:"navigation,omitempty"`
}

// Hub delivers the effects of one dashboard. It implements
// dashboard.Notifier and dashboard.Navigator.
type Hub struct {
	dashboardID string
	backlog     *Backlog
	log         *logger.Logger
	now         func() time.Time

	mu     sync.Mutex
	closed bool
	nextID int
	subs   map[int]chan Event
}

// NewHub creates a hub retaining backlog events.
func NewHub(dashboardID string, backlog int, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewWithWriter("test", io.Discard)
	}
	return &Hub{
		dashboardID: dashboardID,
		backlog:     NewBacklog(backlog),
		log:         log.Component("events").With(map[string]interface{}{"dashboard_id": dashboardID}),
		now:         time.Now,
		subs:        make(map[int]chan Event),
	}
}

// Notify publishes a toast.
func (h *Hub) Notify(toast dashboard.Toast) {
	h.publish(Event{Kind: KindToast, Toast: &toast})
}

// Navigate publishes a navigation request.
func (h *Hub) Navigate(req dashboard.NavigationRequest) {
	h.publish(Event{Kind: KindNavigate, Navigation: &req})
}

// Invalidate tells clients the dashboard view changed and should be
// re-read.
func (h *Hub) Invalidate() {
	h.publish(Event{Kind: KindView})
}

// Since returns the backlog after seq.
func (h *Hub) Since(seq uint64) []Event {
	return h.backlog.Since(seq)
}

// LastSeq returns the newest sequence number.
func (h *Hub) LastSeq() uint64 {
	return h.backlog.LastSeq()
}

func (h *Hub) publish(event Event) {
	event.DashboardID = h.dashboardID
	event.Time = h.now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	// Appending under h.mu keeps delivery order equal to sequence order.
	event = h.backlog.Append(event)

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.log.Warn("Dropping slow event subscriber", map[string]interface{}{"subscriber": id})
			close(ch)
			delete(h.subs, id)
		}
	}
}

// Subscribe returns the backlog after since together with a channel of
// later events. The channel is closed by cancel, by Close, or when the
// subscriber falls behind.
func (h *Hub) Subscribe(since uint64) (backlog []Event, ch <-chan Event, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := make(chan Event, subscriberBuffer)
	if h.closed {
		close(c)
		return h.backlog.Since(since), c, func() {}
	}

	h.nextID++
	id := h.nextID
	h.subs[id] = c

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				close(sub)
				delete(h.subs, id)
			}
		})
	}
	return h.backlog.Since(since), c, cancel
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later effects are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
