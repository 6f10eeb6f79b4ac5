// Package recorder persists telemetry received over a link session to a
// time-series store.
//
// Telemetry values are flattened into numeric fields:
//
//	{"t1": 21.5, "probe": {"ok": true, "temps": [1, 2]}}
//	→ t1=21.5 probe.ok=true probe.temps.0=1 probe.temps.1=2
//
// Strings and nulls (including NaN readings) are skipped. A scalar value is
// stored in the field "value".
package recorder

import (
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/devlink/internal/link"
)

// Writer stores points. *influxdb.Client satisfies it.
type Writer interface {
	WriteTelemetry(key string, fields map[string]any, ts time.Time)
	WriteLinkEvent(event string)
}

// Source delivers telemetry and lifecycle events. *link.Session satisfies it.
type Source interface {
	OnTelemetry(key string, fn link.TelemetryFunc) link.Handle
	RemoveTelemetry(key string, h link.Handle) bool
	OnConnected(fn func()) link.Handle
	OnConnectionLost(fn func()) link.Handle
	RemoveHook(h link.Handle) bool
}

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type registration struct {
	key    string
	handle link.Handle
}

// Recorder subscribes to telemetry keys and writes every sample.
type Recorder struct {
	src    Source
	writer Writer
	keys   []string
	logger Logger
	now    func() time.Time

	mu        sync.Mutex
	telemetry []registration
	hooks     []link.Handle
	samples   map[string]int
}

// New creates a Recorder for keys. logger may be nil.
func New(src Source, writer Writer, keys []string, logger Logger) *Recorder {
	return &Recorder{
		src:     src,
		writer:  writer,
		keys:    keys,
		logger:  logger,
		now:     time.Now,
		samples: make(map[string]int),
	}
}

// Start registers the recorder's callbacks. Calling Start twice is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.telemetry) > 0 || len(r.hooks) > 0 {
		return
	}
	for _, key := range r.keys {
		h := r.src.OnTelemetry(key, func(v any) { r.record(key, v) })
		r.telemetry = append(r.telemetry, registration{key: key, handle: h})
	}
	r.hooks = append(r.hooks,
		r.src.OnConnected(func() { r.writer.WriteLinkEvent("connected") }),
		r.src.OnConnectionLost(func() { r.writer.WriteLinkEvent("connection_lost") }),
	)

	if r.logger != nil {
		r.logger.Info("telemetry recorder started", "keys", r.keys)
	}
}

// Stop unregisters every callback added by Start.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.telemetry {
		r.src.RemoveTelemetry(reg.key, reg.handle)
	}
	for _, h := range r.hooks {
		r.src.RemoveHook(h)
	}
	r.telemetry = nil
	r.hooks = nil
}

// Samples returns how many samples were written for key.
func (r *Recorder) Samples(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples[key]
}

func (r *Recorder) record(key string, value any) {
	fields := Flatten(value)
	if len(fields) == 0 {
		if r.logger != nil {
			r.logger.Debug("telemetry sample has no numeric fields", "key", key)
		}
		return
	}
	r.writer.WriteTelemetry(key, fields, r.now())

	r.mu.Lock()
	r.samples[key]++
	r.mu.Unlock()
}

// Flatten converts a decoded JSON value into dotted numeric and boolean fields.
func Flatten(value any) map[string]any {
	fields := make(map[string]any)
	switch value.(type) {
	case map[string]any, []any:
		flatten(fields, "", value)
	default:
		flatten(fields, "value", value)
	}
	return fields
}

func flatten(fields map[string]any, prefix string, value any) {
	switch v := value.(type) {
	case float64:
		fields[prefix] = v
	case bool:
		fields[prefix] = v
	case map[string]any:
		for k, child := range v {
			flatten(fields, join(prefix, k), child)
		}
	case []any:
		for i, child := range v {
			flatten(fields, join(prefix, strconv.Itoa(i)), child)
		}
	}
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
