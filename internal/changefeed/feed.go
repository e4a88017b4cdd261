// Package changefeed provides ChangeFeed transports for inspection
// change-data-capture events: an in-process feed, Kafka topics and Redis
// pub/sub channels.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/stwalsh4118/inspections/api/internal/dashboard"
	"github.com/stwalsh4118/inspections/api/internal/logger"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// Feed errors
var (
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrClosed              = errors.New("change feed is closed")
	ErrChannelRequired     = errors.New("channel is required")
	ErrHandlerRequired     = errors.New("handler is required")
)

// Feed is a ChangeFeed that can also publish events and be shut down.
type Feed interface {
	dashboard.ChangeFeed

	// Publish sends event on event.Channel.
	Publish(ctx context.Context, event models.ChangeEvent) error

	// Close releases every subscription and the underlying connections.
	Close() error
}

// handle is the Subscription returned by every transport in this package.
type handle struct {
	id      uint64
	channel string
}

func (h *handle) Channel() string {
	return h.channel
}

// errorSink holds the single transport-error callback.
type errorSink struct {
	mu  sync.RWMutex
	fn  func(error)
	log *logger.Logger
}

func (s *errorSink) set(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
}

// report hands err to the callback, or logs it when none is installed.
func (s *errorSink) report(err error) {
	s.mu.RLock()
	fn := s.fn
	s.mu.RUnlock()

	if fn == nil {
		s.log.Error("Change feed error", err, nil)
		return
	}
	fn(err)
}

// dispatch runs handler and turns a panic into a reported error.
func dispatch(sink *errorSink, handler func(models.ChangeEvent), event models.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			sink.report(fmt.Errorf("handler for %s panicked: %v", event.Channel, r))
		}
	}()
	handler(event)
}

func validateSubscribe(channel string, handler func(models.ChangeEvent)) error {
	if channel == "" {
		return ErrChannelRequired
	}
	if handler == nil {
		return ErrHandlerRequired
	}
	return nil
}

func handleID(sub dashboard.Subscription) (uint64, error) {
	h, ok := sub.(*handle)
	if !ok || h == nil {
		return 0, ErrUnknownSubscription
	}
	return h.id, nil
}

func orDiscard(log *logger.Logger) *logger.Logger {
	if log == nil {
		return logger.NewWithWriter("test", io.Discard)
	}
	return log
}
