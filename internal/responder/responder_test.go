package responder

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/devlink/internal/link"
	"github.com/nerrad567/devlink/internal/link/linktest"
)

var topics = link.Topics{
	Data:     "data/picalor/core",
	Request:  "cmd/picalor/core/req",
	Response: "cmd/picalor/core/resp",
}

// setup starts a responder and a connected client session on one broker.
func setup(t *testing.T, timeout time.Duration, register func(r *Responder)) (*Responder, *link.Session) {
	t.Helper()
	broker := linktest.NewBroker()

	r, err := New(Options{Transport: broker.NewTransport(), Topics: topics})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	register(r)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(r.Stop)

	sess, err := link.New(link.Options{Transport: broker.NewTransport(), Topics: topics, Timeout: timeout})
	if err != nil {
		t.Fatalf("link.New() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return r, sess
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Topics: topics}); err == nil {
		t.Error("New() without transport expected error")
	}
	tr := linktest.NewBroker().NewTransport()
	if _, err := New(Options{Transport: tr, Topics: link.Topics{}}); err == nil {
		t.Error("New() with empty topics expected error")
	}
}

func TestResponder_Echo(t *testing.T) {
	_, sess := setup(t, time.Second, func(r *Responder) {
		r.Handle("echo", func(_ context.Context, v any) (any, error) { return v, nil })
	})

	got, err := sess.Query(context.Background(), "echo", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"a": float64(1)}) {
		t.Errorf("Query() = %#v", got)
	}

	// A missing argument arrives as true.
	got, err = sess.Query(context.Background(), "echo", nil)
	if err != nil || got != true {
		t.Errorf("Query(nil) = %#v, %v; want true", got, err)
	}
}

func TestResponder_Errors(t *testing.T) {
	_, sess := setup(t, time.Second, func(r *Responder) {
		r.Handle("fail", func(context.Context, any) (any, error) { return nil, errors.New("sensor offline") })
		r.Handle("panic", func(context.Context, any) (any, error) { panic("bad state") })
	})

	tests := []struct {
		command string
		want    string
	}{
		{"fail", "Core: sensor offline"},
		{"nope", "Core: unknown command: nope"},
		{"panic", "Core: handler panic: bad state"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			_, err := sess.Query(context.Background(), tt.command, nil)
			var remote *link.RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("Query() error = %v, want *link.RemoteError", err)
			}
			if remote.Value != tt.want {
				t.Errorf("RemoteError.Value = %#v, want %q", remote.Value, tt.want)
			}
		})
	}
}

func TestResponder_NilResultSendsNoReply(t *testing.T) {
	_, sess := setup(t, 100*time.Millisecond, func(r *Responder) {
		r.Handle("fire", func(context.Context, any) (any, error) { return nil, nil })
	})

	_, err := sess.Query(context.Background(), "fire", nil)
	if !errors.Is(err, link.ErrTimeout) {
		t.Errorf("Query() error = %v, want timeout", err)
	}
}

func TestResponder_Telemetry(t *testing.T) {
	r, sess := setup(t, time.Second, func(*Responder) {})

	results := make(chan any, 2)
	errs := make(chan any, 1)
	sess.OnTelemetry("results", func(v any) { results <- v })
	sess.OnTelemetry("errors", func(v any) { errs <- v })

	if err := r.PushTelemetry("results", map[string]float64{"t1": 20}); err != nil {
		t.Fatalf("PushTelemetry() error = %v", err)
	}
	if err := r.PushRaw("results", []byte(`{"t1":NaN}`)); err != nil {
		t.Fatalf("PushRaw() error = %v", err)
	}
	if err := r.PushError("overheat"); err != nil {
		t.Fatalf("PushError() error = %v", err)
	}

	want := []any{
		map[string]any{"t1": float64(20)},
		map[string]any{"t1": nil},
	}
	for i, w := range want {
		select {
		case v := <-results:
			if !reflect.DeepEqual(v, w) {
				t.Errorf("telemetry[%d] = %#v, want %#v", i, v, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("telemetry[%d] not delivered", i)
		}
	}
	select {
	case v := <-errs:
		if v != "Core: overheat" {
			t.Errorf("error telemetry = %#v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("error telemetry not delivered")
	}

	if err := r.PushTelemetry("", 1); !errors.Is(err, link.ErrInvalidKey) {
		t.Errorf("PushTelemetry(\"\") error = %v, want ErrInvalidKey", err)
	}
}

func TestResponder_StopIsIdempotent(t *testing.T) {
	tr := linktest.NewBroker().NewTransport()
	r, err := New(Options{Transport: tr, Topics: topics})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r.Stop() // never started

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.Stop()
	r.Stop()
	if tr.Connected() {
		t.Error("transport still connected after Stop")
	}
}

func TestResponder_StartFailures(t *testing.T) {
	tr := linktest.NewBroker().NewTransport()
	tr.FailSubscribe(topics.RequestFilter(), errors.New("denied"))
	r, _ := New(Options{Transport: tr, Topics: topics})

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("Start() expected subscribe error")
	}
	if tr.Connected() {
		t.Error("transport left connected after failed Start")
	}

	tr2 := linktest.NewBroker().NewTransport()
	tr2.FailConnect(errors.New("refused"))
	r2, _ := New(Options{Transport: tr2, Topics: topics})
	if err := r2.Start(context.Background()); err == nil {
		t.Error("Start() expected connect error")
	}
}
