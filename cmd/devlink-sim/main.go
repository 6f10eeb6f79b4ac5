// devlink-sim - simulated device
//
// devlink-sim plays the device side of the link protocol against the broker
// in the devlink configuration. It answers echo, ping, get__config and
// set__datalog_enabled, and publishes synthetic temperature telemetry for the
// configured keys. Probes that are "disconnected" report NaN, as the real
// firmware does.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
	"github.com/nerrad567/devlink/internal/infrastructure/logging"
	"github.com/nerrad567/devlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devlink/internal/infrastructure/nats"
	"github.com/nerrad567/devlink/internal/link"
	"github.com/nerrad567/devlink/internal/responder"
)

var version = "dev"

const defaultConfigPath = "configs/config.yaml"

// probes is the number of temperature channels per telemetry sample.
const probes = 4

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	path := defaultConfigPath
	if p := os.Getenv("DEVLINK_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version).With("component", "sim")
	defer log.Close()

	clientID := link.NewClientID(cfg.Endpoint.ClientIDPrefix + "sim_")
	var transport link.Transport
	switch cfg.Transport.Kind {
	case config.TransportNATS:
		transport = nats.NewClient(cfg.Endpoint, cfg.Transport, clientID, log)
	default:
		transport = mqtt.NewClient(cfg.Endpoint, cfg.Transport, clientID, log)
	}

	dev := newDevice(cfg)
	resp, err := responder.New(responder.Options{
		Transport: transport,
		Topics: link.Topics{
			Data:     cfg.Endpoint.Topics.Data,
			Request:  cfg.Endpoint.Topics.CmdReq,
			Response: cfg.Endpoint.Topics.CmdResp,
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	dev.register(resp)

	if err := resp.Start(ctx); err != nil {
		return err
	}
	defer resp.Stop()

	log.Info("simulator running",
		"client_id", clientID,
		"keys", cfg.Simulator.Keys,
		"interval_s", cfg.Simulator.TelemetryInterval,
	)

	interval := time.Duration(cfg.Simulator.TelemetryInterval) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("simulator stopping")
			return nil
		case <-ticker.C:
			if !dev.datalogEnabled() {
				continue
			}
			for _, key := range cfg.Simulator.Keys {
				if err := resp.PushRaw(key, dev.sample()); err != nil {
					log.Warn("publishing telemetry failed", "key", key, "error", err)
				}
			}
		}
	}
}

// device holds the simulated firmware state.
type device struct {
	cfg *config.Config

	mu      sync.Mutex
	datalog bool
	rng     *rand.Rand
}

func newDevice(cfg *config.Config) *device {
	return &device{
		cfg:     cfg,
		datalog: true,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

func (d *device) register(r *responder.Responder) {
	r.Handle("echo", d.echo)
	r.Handle("ping", d.ping)
	r.Handle("get__config", d.getConfig)
	r.Handle("set__datalog_enabled", d.setDatalogEnabled)
}

func (d *device) echo(_ context.Context, value any) (any, error) {
	return value, nil
}

func (d *device) ping(_ context.Context, _ any) (any, error) {
	return "pong", nil
}

func (d *device) getConfig(_ context.Context, _ any) (any, error) {
	return map[string]any{
		"keys":               d.cfg.Simulator.Keys,
		"telemetry_interval": d.cfg.Simulator.TelemetryInterval,
		"probes":             probes,
		"datalog_enabled":    d.datalogEnabled(),
	}, nil
}

func (d *device) setDatalogEnabled(_ context.Context, value any) (any, error) {
	enabled, ok := value.(bool)
	if !ok {
		return nil, errors.New("set__datalog_enabled expects a boolean")
	}
	d.mu.Lock()
	d.datalog = enabled
	d.mu.Unlock()
	return enabled, nil
}

func (d *device) datalogEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.datalog
}

// sample renders one telemetry payload. Each probe has a one in ten chance of
// reading NaN, which is not valid JSON and is sent as the bare token.
func (d *device) sample() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	parts := make([]string, 0, probes+1)
	for i := 1; i <= probes; i++ {
		if d.rng.IntN(10) == 0 {
			parts = append(parts, fmt.Sprintf(`"t%d":NaN`, i))
			continue
		}
		parts = append(parts, fmt.Sprintf(`"t%d":%.2f`, i, 20+d.rng.Float64()*5))
	}
	parts = append(parts, fmt.Sprintf(`"ts":%d`, time.Now().Unix()))
	return []byte("{" + strings.Join(parts, ",") + "}")
}
