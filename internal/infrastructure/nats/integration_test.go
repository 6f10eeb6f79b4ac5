//go:build integration

package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
	"github.com/nerrad567/devlink/internal/link"
)

// These tests require a NATS server at 127.0.0.1:4222.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/nats/...

func TestIntegration_SessionTelemetry(t *testing.T) {
	endpoint := config.EndpointConfig{Hosts: []string{"127.0.0.1"}, Ports: []int{4222}, Timeout: 5}
	transport := config.TransportConfig{Kind: config.TransportNATS, Reconnect: config.ReconnectConfig{Enabled: true}}
	ctx := context.Background()
	topics := link.Topics{Data: "devlink/int/data", Request: "devlink/int/req", Response: "devlink/int/resp"}

	gui := NewClient(endpoint, transport, link.NewClientID("devlink_gui_"), nil)
	sess, err := link.New(link.Options{Transport: gui, Topics: topics, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("link.New() error = %v", err)
	}
	defer sess.Close()
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	got := make(chan any, 1)
	sess.OnTelemetry("results", func(v any) { got <- v })

	device := NewClient(endpoint, transport, link.NewClientID("devlink_dev_"), nil)
	if err := device.Connect(ctx); err != nil {
		t.Fatalf("device Connect() error = %v", err)
	}
	defer device.Disconnect()
	if err := device.Publish(topics.Telemetry("results"), []byte(`{"t1":NaN}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case v := <-got:
		m, ok := v.(map[string]any)
		if !ok || m["t1"] != nil {
			t.Errorf("telemetry = %#v, want {t1:null}", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("telemetry not delivered")
	}
}
