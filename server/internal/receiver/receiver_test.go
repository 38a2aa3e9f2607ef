package receiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartbiofloc/biofloc/pkg/types"
	"github.com/smartbiofloc/biofloc/server/internal/config"
	"github.com/smartbiofloc/biofloc/server/internal/quality"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

// fakeMessage implements mqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type recorder struct {
	mu       sync.Mutex
	failures []string
	dropped  int
}

func (r *recorder) ValidationFailed(field, transport string) {
	r.mu.Lock()
	r.failures = append(r.failures, field+"/"+transport)
	r.mu.Unlock()
}

func (r *recorder) Dropped(string) {
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
}

const validPayload = `{"ph": 7.4, "temperature_c": 28, "ultrasonic_cm": 80, "turbidity_ntu": 50}`

func newReceiver(queue, workers int) (*Receiver, *registry.Registry, *recorder) {
	reg := registry.New(registry.Config{}, quality.DefaultModel())
	rec := &recorder{}
	r := New(config.MQTTConfig{Topic: "biofloc/+/reading", QueueSize: queue, Workers: workers}, reg, rec)
	return r, reg, rec
}

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		filter, topic, want string
	}{
		{"biofloc/+/reading", "biofloc/pond-3/reading", "pond-3"},
		{"farm/+/+/water", "farm/north/tank-1/water", "north"},
		{"biofloc/readings", "biofloc/readings", ""},
		{"biofloc/#", "biofloc/pond-3/reading", ""},
		{"a/b/+", "a/b", ""},
	}
	for _, tc := range tests {
		if got := DeviceFromTopic(tc.filter, tc.topic); got != tc.want {
			t.Errorf("DeviceFromTopic(%q, %q) = %q, want %q", tc.filter, tc.topic, got, tc.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(config.MQTTConfig{}, nil, nil)
	if r.cfg.QueueSize != config.DefaultMQTTQueueSize || r.cfg.Workers != config.DefaultMQTTWorkers {
		t.Errorf("sizes: got queue=%d workers=%d", r.cfg.QueueSize, r.cfg.Workers)
	}
	if r.cfg.Topic != config.DefaultMQTTTopic || cap(r.queue) != config.DefaultMQTTQueueSize {
		t.Errorf("topic/queue: got %q cap=%d", r.cfg.Topic, cap(r.queue))
	}
}

func TestProcess_Valid(t *testing.T) {
	r, reg, rec := newReceiver(4, 1)
	if err := r.process(message{topic: "biofloc/pond-3/reading", payload: []byte(validPayload)}); err != nil {
		t.Fatalf("process: %v", err)
	}
	d, ok := reg.Get("pond-3")
	if !ok {
		t.Fatal("pond-3 not stored")
	}
	if d.Reading.QualityScore != 55 || d.Reading.SensorsConnected != 4 {
		t.Errorf("stored: got %+v", d.Reading)
	}
	if len(rec.failures) != 0 {
		t.Errorf("failures: got %v", rec.failures)
	}
}

func TestProcess_DefaultDeviceWhenTopicHasNoWildcard(t *testing.T) {
	reg := registry.New(registry.Config{}, quality.DefaultModel())
	r := New(config.MQTTConfig{Topic: "biofloc/readings"}, reg, nil)
	if err := r.process(message{topic: "biofloc/readings", payload: []byte(validPayload)}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, ok := reg.Get(registry.DefaultDeviceID); !ok {
		t.Error("reading should be stored under the default device id")
	}
}

func TestProcess_Invalid(t *testing.T) {
	r, reg, rec := newReceiver(4, 1)

	err := r.process(message{topic: "biofloc/p/reading", payload: []byte(`{"ph": "7"}`)})
	var fe *quality.FieldError
	if !errors.As(err, &fe) || fe.Field != types.FeaturePH {
		t.Errorf("want ph FieldError, got %v", err)
	}
	err = r.process(message{topic: "biofloc/p/reading", payload: []byte(`garbage`)})
	if !errors.Is(err, quality.ErrMalformedBody) {
		t.Errorf("want ErrMalformedBody, got %v", err)
	}

	if reg.Count() != 0 {
		t.Errorf("invalid payloads must not be stored, count=%d", reg.Count())
	}
	if len(rec.failures) != 2 || rec.failures[0] != "ph/mqtt" || rec.failures[1] != "/mqtt" {
		t.Errorf("failures: got %v", rec.failures)
	}
}

func TestHandler_CopiesPayloadAndDropsWhenFull(t *testing.T) {
	r, _, rec := newReceiver(1, 1)
	h := r.Handler()

	buf := []byte(validPayload)
	h(nil, &fakeMessage{topic: "biofloc/a/reading", payload: buf})
	buf[0] = 'X' // paho reuses its buffer

	h(nil, &fakeMessage{topic: "biofloc/b/reading", payload: []byte(validPayload)})
	if rec.dropped != 1 {
		t.Errorf("dropped: got %d, want 1", rec.dropped)
	}

	m := <-r.queue
	if m.topic != "biofloc/a/reading" || m.payload[0] != '{' {
		t.Errorf("queued message: got topic=%q payload=%q", m.topic, m.payload)
	}
}

func TestWorkers_DrainQueue(t *testing.T) {
	r, reg, _ := newReceiver(16, 3)
	r.startWorkers(context.Background())

	h := r.Handler()
	for _, id := range []string{"a", "b", "c", "d"} {
		h(nil, &fakeMessage{topic: "biofloc/" + id + "/reading", payload: []byte(validPayload)})
	}
	r.Stop() // no client: closes the queue and waits for the workers

	if n := reg.Count(); n != 4 {
		t.Errorf("devices after drain: got %d, want 4", n)
	}
}

func TestWorkers_SkipAfterCancel(t *testing.T) {
	r, reg, _ := newReceiver(4, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.startWorkers(ctx)

	r.Handler()(nil, &fakeMessage{topic: "biofloc/a/reading", payload: []byte(validPayload)})

	done := make(chan struct{})
	go func() { r.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	if reg.Count() != 0 {
		t.Error("messages after cancel should be drained, not processed")
	}
}
