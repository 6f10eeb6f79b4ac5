package main

import (
	"context"
	"testing"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
	"github.com/nerrad567/devlink/internal/link"
)

func testConfig() *config.Config {
	return &config.Config{
		Simulator: config.SimulatorConfig{TelemetryInterval: 2, Keys: []string{"results"}},
	}
}

func TestDevice_Sample(t *testing.T) {
	dev := newDevice(testConfig())

	for range 50 {
		payload := dev.sample()
		v, err := link.DecodePayload(payload)
		if err != nil {
			t.Fatalf("DecodePayload(%s) error = %v", payload, err)
		}
		m, ok := v.(map[string]any)
		if !ok {
			t.Fatalf("sample decoded to %T, want object", v)
		}
		for _, k := range []string{"t1", "t2", "t3", "t4", "ts"} {
			if _, ok := m[k]; !ok {
				t.Fatalf("sample %s missing %q", payload, k)
			}
		}
	}
}

func TestDevice_Handlers(t *testing.T) {
	dev := newDevice(testConfig())
	ctx := context.Background()

	if v, err := dev.ping(ctx, true); err != nil || v != "pong" {
		t.Errorf("ping() = %v, %v; want pong", v, err)
	}
	if v, err := dev.echo(ctx, "hello"); err != nil || v != "hello" {
		t.Errorf("echo() = %v, %v; want hello", v, err)
	}

	if _, err := dev.setDatalogEnabled(ctx, "yes"); err == nil {
		t.Error("setDatalogEnabled(string) should fail")
	}
	if v, err := dev.setDatalogEnabled(ctx, false); err != nil || v != false {
		t.Errorf("setDatalogEnabled(false) = %v, %v", v, err)
	}
	if dev.datalogEnabled() {
		t.Error("datalog still enabled after set false")
	}

	v, err := dev.getConfig(ctx, true)
	if err != nil {
		t.Fatalf("getConfig() error = %v", err)
	}
	cfg, ok := v.(map[string]any)
	if !ok || cfg["datalog_enabled"] != false || cfg["probes"] != probes {
		t.Errorf("getConfig() = %#v", v)
	}
}
