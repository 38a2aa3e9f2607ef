package shipper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smartbiofloc/biofloc/server/internal/config"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	writeTimeout      = 10 * time.Second
	flushTimeout      = 5 * time.Second

	// maxBatch bounds the events sent in one WriteMessages call. It matches
	// the kafka.Writer default BatchSize.
	maxBatch = 100

	// batchTimeout replaces the kafka.Writer default of 1s, which would
	// hold every synchronous write for a full second.
	batchTimeout = 10 * time.Millisecond
)

// MessageWriter is the subset of *kafka.Writer used by the shipper.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Shipper publishes a reading.scored event for every accepted reading.
// Ship and OnIngest never block; when the buffer is full the oldest event
// is evicted. Run drains the buffer in batches and retries with backoff
// while the brokers are unreachable.
type Shipper struct {
	cfg config.KafkaConfig
	buf chan Event
	w   MessageWriter

	backoffInitial time.Duration
	onDrop         func()
}

// New creates a Shipper writing to the configured brokers and topic.
// Events are keyed by device id so one pond's events stay ordered within
// a partition.
func New(cfg config.KafkaConfig) *Shipper {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchSize:              maxBatch,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
	return NewWithWriter(cfg, w)
}

// NewWithWriter creates a Shipper around an existing writer.
func NewWithWriter(cfg config.KafkaConfig, w MessageWriter) *Shipper {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultKafkaBuffer
	}
	return &Shipper{
		cfg:            cfg,
		buf:            make(chan Event, cfg.BufferSize),
		w:              w,
		backoffInitial: backoffInitial,
	}
}

// OnDrop registers f to be called each time an event is evicted.
func (s *Shipper) OnDrop(f func()) { s.onDrop = f }

// OnIngest implements registry.Listener.
func (s *Shipper) OnIngest(ev registry.Ingested) { s.Ship(toEvent(ev)) }

// Ship enqueues e. If the buffer is full the oldest entry is evicted.
func (s *Shipper) Ship(e Event) {
	for {
		select {
		case s.buf <- e:
			return
		default:
		}
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest event",
				"device", old.DeviceID, "buffer_cap", cap(s.buf))
			if s.onDrop != nil {
				s.onDrop()
			}
		default:
		}
	}
}

// Run drains the buffer until ctx is cancelled, then makes one bounded
// attempt to flush what is left and closes the writer.
//
// A batch that fails to publish is held and retried ahead of anything
// still buffered, so events leave in the order they were shipped.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff(s.backoffInitial)
	var pending []Event
	defer func() { s.close(pending) }()

	for {
		if len(pending) == 0 {
			select {
			case <-ctx.Done():
				return
			case e := <-s.buf:
				pending = append(pending, e)
			}
		}
		pending = s.fill(pending)

		err := s.write(ctx, pending)
		if err == nil {
			bo.reset()
			slog.Debug("shipper: batch delivered", "events", len(pending))
			pending = nil
			continue
		}
		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: publish failed, will retry",
			"topic", s.cfg.Topic, "events", len(pending), "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// fill appends buffered events to batch without blocking, up to maxBatch.
func (s *Shipper) fill(batch []Event) []Event {
	for len(batch) < maxBatch {
		select {
		case e := <-s.buf:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (s *Shipper) write(ctx context.Context, events []Event) error {
	msgs, err := messages(events)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.w.WriteMessages(wctx, msgs...)
}

// messages encodes events as Kafka messages keyed by device id.
func messages(events []Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.DeviceID),
			Value: value,
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
				{Key: "event_id", Value: []byte(e.ID)},
			},
		})
	}
	return msgs, nil
}

// close flushes pending and the remaining buffered events, in that order,
// then closes the writer.
func (s *Shipper) close(pending []Event) {
drain:
	for {
		select {
		case e := <-s.buf:
			pending = append(pending, e)
		default:
			break drain
		}
	}

	if len(pending) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		msgs, err := messages(pending)
		if err == nil {
			err = s.w.WriteMessages(ctx, msgs...)
		}
		if err != nil {
			slog.Warn("shipper: final flush failed", "events", len(pending), "err", err)
		}
		cancel()
	}

	if err := s.w.Close(); err != nil {
		slog.Warn("shipper: close writer", "err", err)
	}
	slog.Info("shipper: stopped", "flushed", len(pending))
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{initial: initial, current: initial}
}

// next returns the current backoff duration with ±25 % jitter and advances.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
