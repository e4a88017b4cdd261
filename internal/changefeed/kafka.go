package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/stwalsh4118/inspections/api/internal/dashboard"
	"github.com/stwalsh4118/inspections/api/internal/logger"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// KafkaConfig configures the Kafka transport.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	// RetryDelay is the pause after a failed read. Defaults to one second.
	RetryDelay time.Duration
}

type messageReader interface {
	SetOffset(offset int64) error
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaSubscription struct {
	cancel context.CancelFunc
	reader messageReader
	done   chan struct{}
}

// Kafka maps each change channel to a single-partition topic. Every
// subscription owns a reader without a consumer group, so each one sees
// every event and the replay id is the message offset.
type Kafka struct {
	cfg       KafkaConfig
	log       *logger.Logger
	sink      *errorSink
	writer    messageWriter
	newReader func(topic string) messageReader

	mu     sync.Mutex
	closed bool
	nextID uint64
	subs   map[uint64]*kafkaSubscription
}

// NewKafka creates a Kafka feed. No connection is made until the first
// Subscribe or Publish.
func NewKafka(cfg KafkaConfig, log *logger.Logger) *Kafka {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	log = orDiscard(log).Component("changefeed.kafka")

	k := &Kafka{
		cfg:  cfg,
		log:  log,
		sink: &errorSink{log: log},
		writer: &kafka.Writer{
			Addr: kafka.TCP(cfg.Brokers...),
			// Change topics are single-partition so offsets order events.
			Balancer: kafka.BalancerFunc(func(_ kafka.Message, partitions ...int) int {
				return partitions[0]
			}),
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		subs: make(map[uint64]*kafkaSubscription),
	}
	k.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		})
	}
	return k
}

// TopicFor maps a change channel such as /data/Property_Inspection__ChangeEvent
// to a Kafka topic name: the leading slash is dropped, remaining slashes
// become dots and prefix is prepended.
func TopicFor(prefix, channel string) string {
	return prefix + strings.ReplaceAll(strings.TrimPrefix(channel, "/"), "/", ".")
}

// startOffset translates a replay id into a reader offset.
func startOffset(replayID int64) int64 {
	switch {
	case replayID == models.ReplayEarliest:
		return kafka.FirstOffset
	case replayID < 0:
		return kafka.LastOffset
	default:
		return replayID + 1
	}
}

// Subscribe starts a reader on the channel's topic and delivers decoded
// events to handler from a dedicated goroutine.
func (k *Kafka) Subscribe(ctx context.Context, channel string, replayID int64, handler func(models.ChangeEvent)) (dashboard.Subscription, error) {
	if err := validateSubscribe(channel, handler); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil, ErrClosed
	}
	k.nextID++
	id := k.nextID
	k.mu.Unlock()

	topic := TopicFor(k.cfg.TopicPrefix, channel)
	reader := k.newReader(topic)
	if err := reader.SetOffset(startOffset(replayID)); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("set offset on %s: %w", topic, err)
	}

	// The read loop outlives the subscribe request.
	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{cancel: cancel, reader: reader, done: make(chan struct{})}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		cancel()
		_ = reader.Close()
		return nil, ErrClosed
	}
	k.subs[id] = sub
	k.mu.Unlock()

	go k.consume(loopCtx, sub, channel, topic, handler)

	k.log.Info("Kafka subscription started", map[string]interface{}{
		"topic":     topic,
		"replay_id": replayID,
	})
	return &handle{id: id, channel: channel}, nil
}

func (k *Kafka) consume(ctx context.Context, sub *kafkaSubscription, channel, topic string, handler func(models.ChangeEvent)) {
	defer close(sub.done)

	for {
		msg, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			k.sink.report(fmt.Errorf("read %s: %w", topic, err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(k.cfg.RetryDelay):
			}
			continue
		}

		event, err := decodeKafkaMessage(channel, msg)
		if err != nil {
			k.sink.report(err)
			continue
		}
		dispatch(k.sink, handler, event)
	}
}

// decodeKafkaMessage builds a ChangeEvent from a message whose value is the
// JSON event payload.
func decodeKafkaMessage(channel string, msg kafka.Message) (models.ChangeEvent, error) {
	var payload models.EventPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("decode %s offset %d: %w", msg.Topic, msg.Offset, err)
	}
	return models.ChangeEvent{
		Channel:  channel,
		Payload:  payload,
		ReplayID: msg.Offset,
	}, nil
}

// Unsubscribe stops the reader behind sub and waits for its loop to exit.
func (k *Kafka) Unsubscribe(ctx context.Context, sub dashboard.Subscription) error {
	id, err := handleID(sub)
	if err != nil {
		return err
	}

	k.mu.Lock()
	ks, ok := k.subs[id]
	delete(k.subs, id)
	k.mu.Unlock()
	if !ok {
		return ErrUnknownSubscription
	}
	return k.stop(ctx, ks)
}

func (k *Kafka) stop(ctx context.Context, ks *kafkaSubscription) error {
	ks.cancel()
	select {
	case <-ks.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return ks.reader.Close()
}

// OnError installs the transport error callback.
func (k *Kafka) OnError(handler func(error)) {
	k.sink.set(handler)
}

// Publish writes the event payload to the channel's topic, keyed by the
// related property.
func (k *Kafka) Publish(ctx context.Context, event models.ChangeEvent) error {
	if event.Channel == "" {
		return ErrChannelRequired
	}
	value, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}

	topic := TopicFor(k.cfg.TopicPrefix, event.Channel)
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(event.Payload.RelatedPropertyID),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close stops every subscription and the writer.
func (k *Kafka) Close() error {
	k.mu.Lock()
	k.closed = true
	subs := k.subs
	k.subs = make(map[uint64]*kafkaSubscription)
	k.mu.Unlock()

	var errs []error
	for _, ks := range subs {
		if err := k.stop(context.Background(), ks); err != nil {
			errs = append(errs, err)
		}
	}
	if err := k.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
