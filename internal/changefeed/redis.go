package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/stwalsh4118/inspections/api/internal/dashboard"
	"github.com/stwalsh4118/inspections/api/internal/logger"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// RedisConfig configures the Redis pub/sub transport.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// Redis carries change events over pub/sub channels named after the change
// channel. Pub/sub keeps no history, so replay ids other than ReplayLatest
// only affect numbering: Publish stamps each event from a per-channel
// counter.
type Redis struct {
	rdb  *redis.Client
	log  *logger.Logger
	sink *errorSink

	mu     sync.Mutex
	closed bool
	nextID uint64
	subs   map[uint64]*redisSubscription
}

// NewRedis creates a Redis feed.
func NewRedis(cfg RedisConfig, log *logger.Logger) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), log)
}

// NewRedisWithClient creates a Redis feed on an existing client. The feed
// closes the client on Close.
func NewRedisWithClient(rdb *redis.Client, log *logger.Logger) *Redis {
	log = orDiscard(log).Component("changefeed.redis")
	return &Redis{
		rdb:  rdb,
		log:  log,
		sink: &errorSink{log: log},
		subs: make(map[uint64]*redisSubscription),
	}
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Subscribe joins the pub/sub channel and waits for the server to confirm
// before returning.
func (r *Redis) Subscribe(ctx context.Context, channel string, replayID int64, handler func(models.ChangeEvent)) (dashboard.Subscription, error) {
	if err := validateSubscribe(channel, handler); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.nextID++
	id := r.nextID
	r.mu.Unlock()

	if replayID != models.ReplayLatest {
		r.log.Warn("Redis pub/sub cannot replay; delivering new events only", map[string]interface{}{
			"channel":   channel,
			"replay_id": replayID,
		})
	}

	// The subscription is bound to the client, not to the caller's context.
	pubsub := r.rdb.Subscribe(context.WithoutCancel(ctx), channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = pubsub.Close()
		return nil, ErrClosed
	}
	r.subs[id] = sub
	r.mu.Unlock()

	go r.consume(sub, channel, handler)

	r.log.Info("Redis subscription started", map[string]interface{}{"channel": channel})
	return &handle{id: id, channel: channel}, nil
}

func (r *Redis) consume(sub *redisSubscription, channel string, handler func(models.ChangeEvent)) {
	defer close(sub.done)

	for msg := range sub.pubsub.Channel() {
		event, err := decodeRedisMessage(channel, msg.Payload)
		if err != nil {
			r.sink.report(err)
			continue
		}
		dispatch(r.sink, handler, event)
	}
}

// decodeRedisMessage parses a published ChangeEvent envelope. A missing
// channel is filled in from the subscription.
func decodeRedisMessage(channel, payload string) (models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("decode message on %s: %w", channel, err)
	}
	if event.Channel == "" {
		event.Channel = channel
	}
	return event, nil
}

// Unsubscribe closes the pub/sub connection behind sub.
func (r *Redis) Unsubscribe(ctx context.Context, sub dashboard.Subscription) error {
	id, err := handleID(sub)
	if err != nil {
		return err
	}

	r.mu.Lock()
	rs, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSubscription
	}
	return r.stop(ctx, rs)
}

func (r *Redis) stop(ctx context.Context, rs *redisSubscription) error {
	err := rs.pubsub.Close()
	select {
	case <-rs.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// OnError installs the transport error callback.
func (r *Redis) OnError(handler func(error)) {
	r.sink.set(handler)
}

// Publish stamps event with the next replay id of its channel and publishes
// the JSON envelope.
func (r *Redis) Publish(ctx context.Context, event models.ChangeEvent) error {
	if event.Channel == "" {
		return ErrChannelRequired
	}

	replayID, err := r.rdb.Incr(ctx, replayCounterKey(event.Channel)).Result()
	if err != nil {
		return fmt.Errorf("allocate replay id for %s: %w", event.Channel, err)
	}
	event.ReplayID = replayID

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := r.rdb.Publish(ctx, event.Channel, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", event.Channel, err)
	}
	return nil
}

func replayCounterKey(channel string) string {
	return "changefeed:replay:" + channel
}

// Close releases every subscription and the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = make(map[uint64]*redisSubscription)
	r.mu.Unlock()

	var errs []error
	for _, rs := range subs {
		if err := r.stop(context.Background(), rs); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.rdb.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
