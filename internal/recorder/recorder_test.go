package recorder

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devlink/internal/link"
	"github.com/nerrad567/devlink/internal/link/linktest"
)

type point struct {
	key    string
	fields map[string]any
}

// mockWriter records writes in memory.
type mockWriter struct {
	mu      sync.Mutex
	points  []point
	events  []string
	written chan struct{}
}

func newMockWriter() *mockWriter {
	return &mockWriter{written: make(chan struct{}, 16)}
}

func (w *mockWriter) WriteTelemetry(key string, fields map[string]any, _ time.Time) {
	w.mu.Lock()
	w.points = append(w.points, point{key: key, fields: fields})
	w.mu.Unlock()
	w.written <- struct{}{}
}

func (w *mockWriter) WriteLinkEvent(event string) {
	w.mu.Lock()
	w.events = append(w.events, event)
	w.mu.Unlock()
	w.written <- struct{}{}
}

func (w *mockWriter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-w.written:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
	}
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  map[string]any
	}{
		{
			name:  "flat object",
			value: map[string]any{"t1": 21.5, "t2": float64(22)},
			want:  map[string]any{"t1": 21.5, "t2": float64(22)},
		},
		{
			name: "nested object and array",
			value: map[string]any{
				"probe": map[string]any{"ok": true, "temps": []any{float64(1), float64(2)}},
			},
			want: map[string]any{"probe.ok": true, "probe.temps.0": float64(1), "probe.temps.1": float64(2)},
		},
		{
			name:  "nulls and strings skipped",
			value: map[string]any{"t1": nil, "status": "ok", "t2": float64(3)},
			want:  map[string]any{"t2": float64(3)},
		},
		{
			name:  "scalar",
			value: float64(7),
			want:  map[string]any{"value": float64(7)},
		},
		{
			name:  "top level array",
			value: []any{float64(1), nil},
			want:  map[string]any{"0": float64(1)},
		},
		{
			name:  "string scalar",
			value: "Core: overheat",
			want:  map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Flatten(tt.value); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Flatten() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestRecorder_RecordsTelemetry(t *testing.T) {
	broker := linktest.NewBroker()
	tr := broker.NewTransport()
	topics := link.Topics{Data: "data/picalor/core", Request: "cmd/picalor/core/req", Response: "cmd/picalor/core/resp"}

	sess, err := link.New(link.Options{Transport: tr, Topics: topics})
	if err != nil {
		t.Fatalf("link.New() error = %v", err)
	}
	defer sess.Close()

	w := newMockWriter()
	rec := New(sess, w, []string{"results"}, nil)
	rec.Start()
	rec.Start()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	w.wait(t) // connected event

	tr.Inject(topics.Telemetry("results"), []byte(`{"t1":21.5,"t2":NaN}`))
	tr.Inject(topics.Telemetry("other"), []byte(`{"t1":1}`))
	tr.Inject(topics.Telemetry("results"), []byte(`"text only"`))
	tr.Inject(topics.Telemetry("results"), []byte(`{"t1":22}`))
	w.wait(t)
	w.wait(t)

	w.mu.Lock()
	points := append([]point(nil), w.points...)
	events := append([]string(nil), w.events...)
	w.mu.Unlock()

	if len(points) != 2 {
		t.Fatalf("wrote %d points, want 2: %+v", len(points), points)
	}
	if points[0].key != "results" || !reflect.DeepEqual(points[0].fields, map[string]any{"t1": 21.5}) {
		t.Errorf("first point = %+v", points[0])
	}
	if !reflect.DeepEqual(events, []string{"connected"}) {
		t.Errorf("events = %v, want [connected]", events)
	}
	if rec.Samples("results") != 2 {
		t.Errorf("Samples() = %d, want 2", rec.Samples("results"))
	}

	tr.DropConnection(nil)
	w.wait(t)

	rec.Stop()
	if keys := sess.TelemetryKeys(); len(keys) != 0 {
		t.Errorf("TelemetryKeys() after Stop = %v, want none", keys)
	}
}
