package events

import "sync"

// DefaultBacklog is the number of events a hub retains for catch-up.
const DefaultBacklog = 100

// Backlog is a fixed-size ring of events. Sequence numbers start at 1 and
// increase by one per append, so a client that stored the last sequence it
// saw can ask for everything after it on reconnect.
type Backlog struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	next     int
	lastSeq  uint64
}

// NewBacklog creates a backlog. capacity <= 0 uses DefaultBacklog.
func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = DefaultBacklog
	}
	return &Backlog{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

// Append stamps event with the next sequence number, stores it and returns
// the stamped copy. The oldest event is overwritten when full.
func (b *Backlog) Append(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeq++
	event.Seq = b.lastSeq
	b.events[b.next] = event
	b.next = (b.next + 1) % b.capacity
	return event
}

// Since returns the retained events with a sequence number above seq,
// oldest first. When seq predates the oldest retained event every retained
// event is returned. Nil means nothing is newer.
func (b *Backlog) Since(seq uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq >= b.lastSeq {
		return nil
	}

	stored := b.lastSeq
	if stored > uint64(b.capacity) {
		stored = uint64(b.capacity)
	}
	oldest := b.lastSeq - stored + 1
	if seq < oldest-1 {
		seq = oldest - 1
	}

	count := int(b.lastSeq - seq)
	out := make([]Event, count)
	start := (b.next - count + b.capacity) % b.capacity
	for i := 0; i < count; i++ {
		out[i] = b.events[(start+i)%b.capacity]
	}
	return out
}

// LastSeq returns the sequence number of the newest event, 0 when empty.
func (b *Backlog) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq
}
