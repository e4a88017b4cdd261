package dashboard

import (
	"context"
	"errors"
	"sync"
)

// errNoKey is returned by Refresh before the query was ever keyed.
var errNoKey = errors.New("query has no key")

// Fetcher loads the value of a query for a key.
type Fetcher[T any] func(ctx context.Context, key string) (T, error)

// Result is a settled fetch of a Query.
type Result[T any] struct {
	Value   T
	Err     error
	Fetched bool
}

// Query re-runs its fetch whenever its key changes and publishes every
// settled result to its listeners, mirroring a reactive data binding.
//
// Every fetch takes a sequence number when it starts. A result is published
// only if no later-started fetch has published already and the key has not
// changed since the fetch started.
//
// Listeners run while the query lock is held and must not call back into
// the same Query.
type Query[T any] struct {
	fetch Fetcher[T]

	mu         sync.Mutex
	key        string
	keyed      bool
	generation uint64
	seq        uint64
	published  uint64
	listeners  []func(Result[T])
}

// NewQuery creates an unkeyed query.
func NewQuery[T any](fetch Fetcher[T]) *Query[T] {
	return &Query[T]{fetch: fetch}
}

// Listen registers fn to receive every published result.
func (q *Query[T]) Listen(fn func(Result[T])) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Keyed reports whether SetKey was ever called.
func (q *Query[T]) Keyed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.keyed
}

// SetKey re-keys the query and fetches. It returns false without fetching
// when the key is unchanged. Success and failure are both published; a
// failure resets the value to its zero value. Results from a fetch that was
// superseded by a newer key are dropped.
func (q *Query[T]) SetKey(ctx context.Context, key string) bool {
	q.mu.Lock()
	if q.keyed && q.key == key {
		q.mu.Unlock()
		return false
	}
	q.key = key
	q.keyed = true
	q.generation++
	generation := q.generation
	q.seq++
	seq := q.seq
	q.mu.Unlock()

	value, err := q.fetch(ctx, key)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		var zero T
		value = zero
	}
	q.publishLocked(generation, seq, Result[T]{Value: value, Err: err, Fetched: true})
	return true
}

// Refresh re-issues the fetch for the current key and returns once it has
// settled. Only a successful result is published; on failure the previous
// result stays in place and the error is returned. When refreshes overlap,
// the one started last wins.
func (q *Query[T]) Refresh(ctx context.Context) error {
	q.mu.Lock()
	if !q.keyed {
		q.mu.Unlock()
		return errNoKey
	}
	key := q.key
	generation := q.generation
	q.seq++
	seq := q.seq
	q.mu.Unlock()

	value, err := q.fetch(ctx, key)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.publishLocked(generation, seq, Result[T]{Value: value, Fetched: true})
	return nil
}

func (q *Query[T]) publishLocked(generation, seq uint64, r Result[T]) {
	if generation != q.generation || seq < q.published {
		// Re-keyed or overtaken while in flight.
		return
	}
	q.published = seq
	for _, fn := range q.listeners {
		fn(r)
	}
}
