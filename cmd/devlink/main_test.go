package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
	"github.com/nerrad567/devlink/internal/infrastructure/logging"
	"github.com/nerrad567/devlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devlink/internal/infrastructure/nats"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DEVLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_UnreachableBroker(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  hosts: ["127.0.0.1"]
  ports: [1]
  timeout: 1
transport:
  kind: mqtt
  reconnect:
    enabled: false
logging:
  level: error
  format: text
  output: stderr
`)
	t.Setenv("DEVLINK_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the broker is unreachable")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("DEVLINK_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("DEVLINK_CONFIG", "/etc/devlink.yaml")
	if got := getConfigPath(); got != "/etc/devlink.yaml" {
		t.Errorf("getConfigPath() = %q, want /etc/devlink.yaml", got)
	}
}

func TestNewTransport(t *testing.T) {
	log := logging.Default()

	tests := []struct {
		kind    string
		wantErr bool
		check   func(t *testing.T, v any)
	}{
		{
			kind: config.TransportMQTT,
			check: func(t *testing.T, v any) {
				if _, ok := v.(*mqtt.Client); !ok {
					t.Errorf("transport = %T, want *mqtt.Client", v)
				}
			},
		},
		{
			kind: config.TransportNATS,
			check: func(t *testing.T, v any) {
				if _, ok := v.(*nats.Client); !ok {
					t.Errorf("transport = %T, want *nats.Client", v)
				}
			},
		},
		{kind: "amqp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cfg := &config.Config{
				Endpoint:  config.EndpointConfig{Hosts: []string{"localhost"}, Ports: []int{1883}, Timeout: 5},
				Transport: config.TransportConfig{Kind: tt.kind, QoS: 1},
			}
			tr, err := newTransport(cfg, "devlink_test", log)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newTransport() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, tr)
			}
		})
	}
}

func TestRunCommand_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing command", args: []string{"query"}},
		{name: "unknown mode", args: []string{"fetch", "echo"}},
		{name: "too many args", args: []string{"query", "echo", "1", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runCommand(context.Background(), tt.args, &bytes.Buffer{})
			if !errors.Is(err, errUsage) {
				t.Errorf("runCommand() error = %v, want errUsage", err)
			}
		})
	}
}

func TestRunCommand_InvalidJSON(t *testing.T) {
	err := runCommand(context.Background(), []string{"query", "echo", "{bad"}, &bytes.Buffer{})
	if err == nil || errors.Is(err, errUsage) {
		t.Errorf("runCommand() error = %v, want JSON validation error", err)
	}
}
