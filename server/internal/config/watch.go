package config

import (
	"context"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Server sections as they appear under the `server:` key.
const (
	SectionHTTPPort = "http_port"
	SectionLogLevel = "log_level"
	SectionAuth     = "auth"
	SectionDevices  = "devices"
	SectionStream   = "stream"
	SectionMetrics  = "metrics"
	SectionMQTT     = "mqtt"
	SectionKafka    = "kafka"
	SectionAlerts   = "alerts"
)

// hotSections are applied by the running server; every other section is
// read once at startup.
var hotSections = []string{SectionLogLevel, SectionAlerts}

// defaultDebounce collapses the write bursts editors produce on save.
const defaultDebounce = 250 * time.Millisecond

// Change is one successful reload.
type Change struct {
	Config *Config

	// Sections lists the server sections that differ from the previous
	// config, in file order.
	Sections []string
}

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	return slices.Contains(c.Sections, section)
}

// RestartRequired returns the changed sections that only take effect
// after a restart.
func (c Change) RestartRequired() []string {
	var out []string
	for _, s := range c.Sections {
		if !slices.Contains(hotSections, s) {
			out = append(out, s)
		}
	}
	return out
}

// Watch monitors path and calls onChange after each settled write that
// changes at least one server section. It runs until ctx is cancelled.
//
// If a reload fails (e.g., invalid YAML), the error is logged and the
// previous config remains the baseline; onChange is not called.
func Watch(ctx context.Context, path string, onChange func(Change)) error {
	return watch(ctx, path, defaultDebounce, onChange)
}

func watch(ctx context.Context, path string, debounce time.Duration, onChange func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	prev, err := Load(path)
	if err != nil {
		slog.Warn("config: initial load failed, diffing against defaults", "path", path, "err", err)
		prev = Defaults()
	}
	slog.Info("config: watching for changes", "path", path, "debounce", debounce)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so Create counts as a write.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				timer.Reset(debounce)
			}

		case <-timer.C:
			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			sections := Diff(prev.Server, cfg.Server)
			prev = cfg
			if len(sections) == 0 {
				slog.Debug("config: file rewritten without changes", "path", path)
				continue
			}
			slog.Info("config: reloaded", "path", path, "changed", sections)
			onChange(Change{Config: cfg, Sections: sections})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// Diff returns the server sections whose values differ between a and b.
func Diff(a, b ServerConfig) []string {
	pairs := []struct {
		name string
		a, b any
	}{
		{SectionHTTPPort, a.HTTPPort, b.HTTPPort},
		{SectionLogLevel, a.LogLevel, b.LogLevel},
		{SectionAuth, a.Auth, b.Auth},
		{SectionDevices, a.Devices, b.Devices},
		{SectionStream, a.Stream, b.Stream},
		{SectionMetrics, a.Metrics, b.Metrics},
		{SectionMQTT, a.MQTT, b.MQTT},
		{SectionKafka, a.Kafka, b.Kafka},
		{SectionAlerts, a.Alerts, b.Alerts},
	}
	var out []string
	for _, p := range pairs {
		if !reflect.DeepEqual(p.a, p.b) {
			out = append(out, p.name)
		}
	}
	return out
}
