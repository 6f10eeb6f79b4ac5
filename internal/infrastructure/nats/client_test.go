package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	natsio "github.com/nats-io/nats.go"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
	"github.com/nerrad567/devlink/internal/link"
)

func testConfig() (config.EndpointConfig, config.TransportConfig) {
	endpoint := config.EndpointConfig{
		Hosts:   []string{"isoflux1.local", "127.0.0.1"},
		Ports:   []int{4222, 4223},
		Timeout: 2,
	}
	transport := config.TransportConfig{
		Kind:      config.TransportNATS,
		Reconnect: config.ReconnectConfig{Enabled: true, InitialDelay: 1, MaxAttempts: 3},
	}
	return endpoint, transport
}

func TestSubjectFromTopic(t *testing.T) {
	tests := []struct {
		topic     string
		wildcards bool
		want      string
		wantErr   bool
	}{
		{"data/picalor/core/results", false, "data.picalor.core.results", false},
		{"data/picalor/core/+", true, "data.picalor.core.*", false},
		{"cmd/picalor/core/resp/+/+", true, "cmd.picalor.core.resp.*.*", false},
		{"cmd/#", true, "cmd.>", false},
		{"cmd/#/x", true, "", true},
		{"data/+", false, "", true},
		{"", false, "", true},
		{"data//x", false, "", true},
		{"data/v1.2", false, "", true},
		{"data/a b", false, "", true},
	}
	for _, tt := range tests {
		got, err := subjectFromTopic(tt.topic, tt.wildcards)
		if (err != nil) != tt.wantErr {
			t.Errorf("subjectFromTopic(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("subjectFromTopic(%q) error = %v, want ErrInvalidTopic", tt.topic, err)
		}
		if got != tt.want {
			t.Errorf("subjectFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestTopicFromSubject(t *testing.T) {
	if got := topicFromSubject("cmd.picalor.core.resp.ok.get__config"); got != "cmd/picalor/core/resp/ok/get__config" {
		t.Errorf("topicFromSubject() = %q", got)
	}
}

func TestServerURLs(t *testing.T) {
	endpoint, _ := testConfig()
	got := serverURLs(endpoint)
	if len(got) != 2 || got[0] != "nats://isoflux1.local:4222" || got[1] != "nats://127.0.0.1:4223" {
		t.Errorf("serverURLs() = %v", got)
	}

	endpoint.TLS = true
	if got := serverURLs(endpoint); got[0] != "tls://isoflux1.local:4222" {
		t.Errorf("serverURLs() with TLS = %v", got)
	}
}

func TestOptions(t *testing.T) {
	endpoint, transport := testConfig()
	transport.Auth = config.AuthConfig{Username: "gui", Password: "secret"}
	c := NewClient(endpoint, transport, "devlink_1234abcd", nil)

	opts := natsio.GetDefaultOptions()
	for _, opt := range c.options(&conn{}) {
		if err := opt(&opts); err != nil {
			t.Fatalf("applying option: %v", err)
		}
	}

	if opts.Name != "devlink_1234abcd" {
		t.Errorf("Name = %q", opts.Name)
	}
	if !opts.NoRandomize {
		t.Error("NoRandomize = false, want servers tried in order")
	}
	if opts.MaxReconnect != 3 {
		t.Errorf("MaxReconnect = %d, want 3", opts.MaxReconnect)
	}
	if opts.ReconnectWait != time.Second {
		t.Errorf("ReconnectWait = %v, want 1s", opts.ReconnectWait)
	}
	if opts.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", opts.Timeout)
	}
	if opts.User != "gui" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AllowReconnect {
		t.Error("AllowReconnect = false, want true")
	}
}

func TestOptions_ReconnectDisabled(t *testing.T) {
	endpoint, transport := testConfig()
	transport.Reconnect.Enabled = false
	c := NewClient(endpoint, transport, "id", nil)

	opts := natsio.GetDefaultOptions()
	for _, opt := range c.options(&conn{}) {
		if err := opt(&opts); err != nil {
			t.Fatalf("applying option: %v", err)
		}
	}
	if opts.AllowReconnect {
		t.Error("AllowReconnect = true, want false")
	}
}

func TestOptions_UnlimitedReconnects(t *testing.T) {
	endpoint, transport := testConfig()
	transport.Reconnect.MaxAttempts = 0
	c := NewClient(endpoint, transport, "id", nil)

	opts := natsio.GetDefaultOptions()
	for _, opt := range c.options(&conn{}) {
		_ = opt(&opts)
	}
	if opts.MaxReconnect != -1 {
		t.Errorf("MaxReconnect = %d, want -1", opts.MaxReconnect)
	}
}

func TestClient_NotConnected(t *testing.T) {
	endpoint, transport := testConfig()
	c := NewClient(endpoint, transport, "id", nil)
	ctx := context.Background()

	if err := c.Publish("a/b", nil); !errors.Is(err, link.ErrNotConnected) {
		t.Errorf("Publish() error = %v, want link.ErrNotConnected", err)
	}
	if err := c.Subscribe(ctx, "a/+"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe(ctx, "a/+"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Publish("a/+", nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(wildcard) error = %v, want ErrInvalidTopic", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	c.Disconnect()
}

func TestClient_ConnectCancelled(t *testing.T) {
	endpoint, transport := testConfig()
	c := NewClient(endpoint, transport, "id", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Connect(ctx); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_MessageHandler(t *testing.T) {
	endpoint, transport := testConfig()
	c := NewClient(endpoint, transport, "id", nil)

	c.messageHandler()(&natsio.Msg{Subject: "data.picalor.core.results", Data: []byte(`{"x":NaN}`)})

	select {
	case ev := <-c.Events():
		if ev.Kind != link.EventMessage || ev.Topic != "data/picalor/core/results" || string(ev.Payload) != `{"x":NaN}` {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}
}

func TestClient_FullQueueKeepsLifecycleEvents(t *testing.T) {
	endpoint, transport := testConfig()
	c := NewClient(endpoint, transport, "id", nil)
	c.events = link.NewEventQueue(1, 10*time.Millisecond, nil)

	opts := natsio.GetDefaultOptions()
	for _, opt := range c.options(&conn{}) {
		if err := opt(&opts); err != nil {
			t.Fatalf("applying option: %v", err)
		}
	}

	handler := c.messageHandler()
	handler(&natsio.Msg{Subject: "data.picalor.core.results", Data: []byte(`1`)})
	handler(&natsio.Msg{Subject: "data.picalor.core.results", Data: []byte(`2`)})
	if got := c.DroppedMessages(); got != 1 {
		t.Fatalf("DroppedMessages() = %d, want 1", got)
	}

	cause := errors.New("EOF")
	done := make(chan struct{})
	go func() {
		opts.DisconnectedErrCB(nil, cause)
		close(done)
	}()

	for _, want := range []link.EventKind{link.EventMessage, link.EventConnectionLost} {
		select {
		case ev := <-c.Events():
			if ev.Kind != want {
				t.Fatalf("event = %+v, want %s", ev, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disconnect handler did not return")
	}
}
