package registry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smartbiofloc/biofloc/pkg/types"
	"github.com/smartbiofloc/biofloc/server/internal/quality"
)

// Default registry settings.
const (
	DefaultDeviceID     = "esp32-default"
	DefaultEvictAfter   = 5 * time.Minute
	DefaultActiveWithin = 2 * time.Minute
)

// Config controls device identity fallback and the two freshness windows.
type Config struct {
	// DefaultDeviceID is substituted when a reading arrives without an id.
	DefaultDeviceID string

	// EvictAfter is how long a device stays tracked after its last reading.
	EvictAfter time.Duration

	// ActiveWithin is how recent the last reading must be for a tracked
	// device to be reported as active. Shorter than EvictAfter.
	ActiveWithin time.Duration
}

// ScoredReading is a reading merged with the values derived from it.
type ScoredReading struct {
	types.Reading
	QualityScore     int `json:"quality_score"`
	SensorsConnected int `json:"sensors_connected"`
}

// NewScoredReading merges r with its score and connectivity count.
func NewScoredReading(r types.Reading, res quality.Result, flags quality.SensorFlags) ScoredReading {
	return ScoredReading{
		Reading:          r,
		QualityScore:     res.Score,
		SensorsConnected: flags.Connected(),
	}
}

// Record is the registry's state for one device.
type Record struct {
	DeviceID   string
	LastUpdate time.Time
	Reading    ScoredReading

	seq uint64 // registration order
}

// IngestResult is returned by Ingest: the score plus fleet metadata.
type IngestResult struct {
	quality.Result
	ActiveDevices    int
	TotalSensors     int
	DeviceID         string
	SensorsConnected int
}

// Ingested is delivered to listeners for every accepted reading.
type Ingested struct {
	DeviceID   string
	Reading    ScoredReading
	Result     quality.Result
	ReceivedAt time.Time

	// Evicted is the number of stale devices removed by this ingest's sweep.
	Evicted int
	// Tracked is the number of devices left after the sweep.
	Tracked int
	// TotalSensors is the fleet-wide connected sensor count after the sweep.
	TotalSensors int
}

// Listener observes accepted readings. OnIngest is called after the
// registry lock is released and must not block.
type Listener interface {
	OnIngest(Ingested)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Ingested)

// OnIngest calls f(ev).
func (f ListenerFunc) OnIngest(ev Ingested) { f(ev) }

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithListener registers l to be notified of every accepted reading.
func WithListener(l Listener) Option {
	return func(r *Registry) { r.listeners = append(r.listeners, l) }
}

// Registry tracks the latest scored reading of every reporting device.
// Stale devices are swept lazily on each Ingest; there is no background
// timer. Registry is safe for concurrent use; concurrent ingests for the
// same device resolve last-write-wins.
type Registry struct {
	cfg       Config
	model     quality.Model
	listeners []Listener
	now       func() time.Time

	mu      sync.Mutex
	devices map[string]*Record
	nextSeq uint64
}

// New creates an empty Registry. Zero config fields take their defaults.
func New(cfg Config, model quality.Model, opts ...Option) *Registry {
	if strings.TrimSpace(cfg.DefaultDeviceID) == "" {
		cfg.DefaultDeviceID = DefaultDeviceID
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = DefaultEvictAfter
	}
	if cfg.ActiveWithin <= 0 {
		cfg.ActiveWithin = DefaultActiveWithin
	}
	r := &Registry{
		cfg:     cfg,
		model:   model,
		now:     time.Now,
		devices: make(map[string]*Record),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() Config { return r.cfg }

// Model returns the scoring model used by Ingest.
func (r *Registry) Model() quality.Model { return r.model }

// ResolveDeviceID returns id trimmed, or the default id when id is blank.
func (r *Registry) ResolveDeviceID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return r.cfg.DefaultDeviceID
}

// Ingest scores reading, stores it as deviceID's latest state, sweeps
// devices that have been silent for longer than EvictAfter and returns the
// score together with fleet totals. The reading must already have passed
// quality.ParseReading or quality.ValidateReading.
func (r *Registry) Ingest(deviceID string, reading types.Reading) IngestResult {
	deviceID = r.ResolveDeviceID(deviceID)

	flags := quality.Flags(reading)
	res := r.model.Predict(reading)
	scored := NewScoredReading(reading, res, flags)

	r.mu.Lock()
	now := r.now()
	rec, ok := r.devices[deviceID]
	if !ok {
		r.nextSeq++
		rec = &Record{DeviceID: deviceID, seq: r.nextSeq}
		r.devices[deviceID] = rec
	}
	rec.LastUpdate = now
	rec.Reading = scored

	evicted := r.sweepLocked(now)
	tracked := len(r.devices)
	totalSensors := 0
	for _, d := range r.devices {
		totalSensors += d.Reading.SensorsConnected
	}
	r.mu.Unlock()

	if evicted > 0 {
		slog.Debug("registry: evicted stale devices", "count", evicted, "tracked", tracked)
	}

	ev := Ingested{
		DeviceID:     deviceID,
		Reading:      scored,
		Result:       res,
		ReceivedAt:   now,
		Evicted:      evicted,
		Tracked:      tracked,
		TotalSensors: totalSensors,
	}
	for _, l := range r.listeners {
		l.OnIngest(ev)
	}

	return IngestResult{
		Result:           res,
		ActiveDevices:    tracked,
		TotalSensors:     totalSensors,
		DeviceID:         deviceID,
		SensorsConnected: scored.SensorsConnected,
	}
}

// Sweep removes devices whose last reading is older than EvictAfter
// relative to now and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

func (r *Registry) sweepLocked(now time.Time) int {
	removed := 0
	for id, d := range r.devices {
		if now.Sub(d.LastUpdate) > r.cfg.EvictAfter {
			delete(r.devices, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of records held, including stale ones that
// have not been swept yet.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// DeviceSnapshot is a read-only view of one device at query time.
type DeviceSnapshot struct {
	DeviceID   string
	Reading    ScoredReading
	LastUpdate time.Time
	IsActive   bool
}

// Fleet is the result of Query.
type Fleet struct {
	Devices      []DeviceSnapshot
	TotalDevices int
	TotalSensors int
	Timestamp    time.Time
}

// Query returns every device still inside the eviction window, ordered by
// first registration. A device is active when its last reading is more
// recent than ActiveWithin; TotalSensors counts inactive devices too.
// Query never mutates the registry: stale records awaiting the next sweep
// are skipped, not deleted.
func (r *Registry) Query() Fleet {
	r.mu.Lock()
	now := r.now()
	recs := make([]*Record, 0, len(r.devices))
	for _, d := range r.devices {
		if now.Sub(d.LastUpdate) > r.cfg.EvictAfter {
			continue
		}
		cp := *d
		recs = append(recs, &cp)
	}
	r.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	fleet := Fleet{
		Devices:   make([]DeviceSnapshot, 0, len(recs)),
		Timestamp: now,
	}
	for _, d := range recs {
		fleet.Devices = append(fleet.Devices, r.snapshot(d, now))
		fleet.TotalSensors += d.Reading.SensorsConnected
	}
	fleet.TotalDevices = len(fleet.Devices)
	return fleet
}

// Get returns the snapshot for one device. Unknown devices and devices past
// the eviction window are reported as not found.
func (r *Registry) Get(deviceID string) (DeviceSnapshot, bool) {
	r.mu.Lock()
	now := r.now()
	d, ok := r.devices[deviceID]
	var cp Record
	if ok {
		cp = *d
	}
	r.mu.Unlock()

	if !ok || now.Sub(cp.LastUpdate) > r.cfg.EvictAfter {
		return DeviceSnapshot{}, false
	}
	return r.snapshot(&cp, now), true
}

func (r *Registry) snapshot(d *Record, now time.Time) DeviceSnapshot {
	return DeviceSnapshot{
		DeviceID:   d.DeviceID,
		Reading:    d.Reading,
		LastUpdate: d.LastUpdate,
		IsActive:   now.Sub(d.LastUpdate) < r.cfg.ActiveWithin,
	}
}
