package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartbiofloc/biofloc/pkg/types"
	"github.com/smartbiofloc/biofloc/server/internal/config"
	"github.com/smartbiofloc/biofloc/server/internal/quality"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

const (
	connectTimeout      = 10 * time.Second
	subscribeTimeout    = 10 * time.Second
	disconnectQuiesceMS = 250
)

// Ingester stores an accepted reading; *registry.Registry satisfies it.
type Ingester interface {
	Ingest(deviceID string, r types.Reading) registry.IngestResult
}

// Recorder counts rejected and dropped messages; *metrics.Metrics
// satisfies it. May be nil.
type Recorder interface {
	ValidationFailed(field, transport string)
	Dropped(component string)
}

type message struct {
	topic   string
	payload []byte
}

// Receiver subscribes to reading topics on an MQTT broker and feeds every
// valid payload into the registry, exactly as POST /predict would.
//
// paho delivers messages on its own goroutine, so the handler only copies
// the payload into a bounded queue; a fixed pool of workers drains it.
type Receiver struct {
	cfg config.MQTTConfig
	reg Ingester
	rec Recorder

	queue  chan message
	wg     sync.WaitGroup
	client mqtt.Client

	// dropLogAt holds the Unix nanosecond time of the last drop log line.
	dropLogAt atomic.Int64
}

// New creates a Receiver. It does not connect until Start.
func New(cfg config.MQTTConfig, reg Ingester, rec Recorder) *Receiver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.DefaultMQTTQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultMQTTWorkers
	}
	if cfg.Topic == "" {
		cfg.Topic = config.DefaultMQTTTopic
	}
	return &Receiver{
		cfg:   cfg,
		reg:   reg,
		rec:   rec,
		queue: make(chan message, cfg.QueueSize),
	}
}

// Start launches the workers and connects to the broker. The subscription is
// (re)issued in the OnConnect handler so it survives reconnects.
func (r *Receiver) Start(ctx context.Context) error {
	r.startWorkers(ctx)

	opts := mqtt.NewClientOptions().
		AddBroker(r.cfg.Broker).
		SetClientID(r.cfg.ClientID).
		SetUsername(r.cfg.Username()).
		SetPassword(r.cfg.Password()).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(r.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("receiver: mqtt connection lost, will reconnect", "err", err)
		})

	r.client = mqtt.NewClient(opts)
	tok := r.client.Connect()
	if ok := tok.WaitTimeout(connectTimeout); !ok {
		return errors.New("receiver: mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("receiver: mqtt connect: %w", err)
	}
	return nil
}

func (r *Receiver) onConnect(c mqtt.Client) {
	slog.Info("receiver: connected to mqtt broker", "broker", r.cfg.Broker)
	tok := c.Subscribe(r.cfg.Topic, r.cfg.QoS, r.Handler())
	if ok := tok.WaitTimeout(subscribeTimeout); !ok {
		slog.Warn("receiver: subscribe timed out", "topic", r.cfg.Topic)
		return
	}
	if err := tok.Error(); err != nil {
		slog.Error("receiver: subscribe failed", "topic", r.cfg.Topic, "err", err)
		return
	}
	slog.Info("receiver: subscribed", "topic", r.cfg.Topic, "qos", r.cfg.QoS)
}

// Stop disconnects from the broker, then lets the workers drain the queue.
func (r *Receiver) Stop() {
	if r.client != nil {
		r.client.Disconnect(disconnectQuiesceMS)
	}
	close(r.queue)
	r.wg.Wait()
	slog.Info("receiver: stopped")
}

// Handler returns the paho callback. It copies the payload (paho reuses
// the buffer) and enqueues without blocking; when the queue is full the
// message is dropped.
func (r *Receiver) Handler() mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		data := make([]byte, len(payload))
		copy(data, payload)

		select {
		case r.queue <- message{topic: msg.Topic(), payload: data}:
		default:
			if r.rec != nil {
				r.rec.Dropped("mqtt")
			}
			r.logDropRateLimited()
		}
	}
}

// logDropRateLimited emits at most one warning per second.
func (r *Receiver) logDropRateLimited() {
	now := time.Now().UnixNano()
	last := r.dropLogAt.Load()
	if now-last >= int64(time.Second) && r.dropLogAt.CompareAndSwap(last, now) {
		slog.Warn("receiver: queue full, message dropped",
			"queue_size", r.cfg.QueueSize, "workers", r.cfg.Workers)
	}
}

func (r *Receiver) startWorkers(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for m := range r.queue {
				if ctx.Err() != nil {
					continue // drain without processing
				}
				_ = r.process(m)
			}
		}()
	}
}

// process validates one payload and ingests it under the device id taken
// from the topic. Safe for concurrent use.
func (r *Receiver) process(m message) error {
	reading, err := quality.ParseReading(m.payload)
	if err != nil {
		field := ""
		var fe *quality.FieldError
		if errors.As(err, &fe) {
			field = string(fe.Field)
		}
		if r.rec != nil {
			r.rec.ValidationFailed(field, "mqtt")
		}
		slog.Warn("receiver: invalid payload", "topic", m.topic, "err", err)
		return err
	}

	res := r.reg.Ingest(DeviceFromTopic(r.cfg.Topic, m.topic), reading)
	slog.Debug("receiver: reading scored",
		"device", res.DeviceID,
		"score", res.Score,
		"category", res.Category,
	)
	return nil
}

// DeviceFromTopic returns the topic level matched by the first single-level
// wildcard ("+") in filter, e.g. "pond-3" for filter "biofloc/+/reading" and
// topic "biofloc/pond-3/reading". It returns "" when the filter has no "+"
// or the topic is too short, and the registry then applies its default id.
func DeviceFromTopic(filter, topic string) string {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		if level == "#" {
			return ""
		}
		if level == "+" {
			if i < len(tl) {
				return tl[i]
			}
			return ""
		}
	}
	return ""
}
