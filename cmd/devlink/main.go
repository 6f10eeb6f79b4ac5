// devlink - device link daemon
//
// devlink connects to a device's pub/sub broker, keeps the command and
// telemetry subscriptions alive, and optionally records telemetry to InfluxDB
// and serves an HTTP/WebSocket gateway.
//
// Usage:
//
//	devlink                             run the daemon until SIGINT/SIGTERM
//	devlink query <command> [json]      run one query and print the result
//	devlink send <command> [json]       publish one request without waiting
//
// The configuration path is read from DEVLINK_CONFIG (default
// configs/config.yaml).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/devlink/internal/api"
	"github.com/nerrad567/devlink/internal/infrastructure/config"
	"github.com/nerrad567/devlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/devlink/internal/infrastructure/logging"
	"github.com/nerrad567/devlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devlink/internal/infrastructure/nats"
	"github.com/nerrad567/devlink/internal/link"
	"github.com/nerrad567/devlink/internal/recorder"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// connectTimeout bounds the initial broker connection and subscription.
const connectTimeout = 30 * time.Second

var errUsage = errors.New("usage: devlink [query|send <command> [json-value]]")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 {
		err = runCommand(ctx, os.Args[1:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the daemon, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting devlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	sess, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing link session")
		if closeErr := sess.Close(); closeErr != nil {
			log.Error("error closing link session", "error", closeErr)
		}
	}()

	sess.OnReconnecting(func(attempt int) {
		log.Warn("link reconnecting", "attempt", attempt)
	})
	sess.OnGaveUp(func(err error) {
		log.Error("link gave up reconnecting", "error", err)
	})

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, map[string]string{"client_id": sess.ClientID()})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		rec := recorder.New(sess, influxClient, cfg.InfluxDB.Keys, log.With("component", "recorder"))
		rec.Start()
		defer rec.Stop()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
			"keys", cfg.InfluxDB.Keys,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Session: sess,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, sess, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred calls run in reverse order: API, recorder, InfluxDB, session.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// runCommand executes a one-shot query or send and writes the result to out.
func runCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	mode, command := args[0], args[1]
	if mode != "query" && mode != "send" {
		return errUsage
	}

	var value any
	if len(args) == 3 {
		if !json.Valid([]byte(args[2])) {
			return fmt.Errorf("argument is not valid JSON: %s", args[2])
		}
		value = json.RawMessage(args[2])
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	defer log.Close()

	sess, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	if mode == "send" {
		return sess.Send(command, value)
	}

	result, err := sess.Query(ctx, command, value)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// openSession builds the configured transport and connects a session over it.
func openSession(ctx context.Context, cfg *config.Config, log *logging.Logger) (*link.Session, error) {
	clientID := link.NewClientID(cfg.Endpoint.ClientIDPrefix)
	transport, err := newTransport(cfg, clientID, log.With("component", "transport"))
	if err != nil {
		return nil, err
	}

	sess, err := link.New(link.Options{
		Transport: transport,
		Topics: link.Topics{
			Data:     cfg.Endpoint.Topics.Data,
			Request:  cfg.Endpoint.Topics.CmdReq,
			Response: cfg.Endpoint.Topics.CmdResp,
		},
		Timeout:       cfg.QueryTimeout(),
		ClientID:      clientID,
		AutoReconnect: cfg.Transport.Reconnect.Enabled,
		Logger:        log.With("component", "link"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating link session: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sess.Connect(connectCtx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("connecting link session: %w", err)
	}
	log.Info("link session ready",
		"transport", cfg.Transport.Kind,
		"hosts", cfg.Endpoint.Hosts,
		"client_id", clientID,
	)
	return sess, nil
}

func newTransport(cfg *config.Config, clientID string, log *logging.Logger) (link.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportMQTT:
		return mqtt.NewClient(cfg.Endpoint, cfg.Transport, clientID, log), nil
	case config.TransportNATS:
		return nats.NewClient(cfg.Endpoint, cfg.Transport, clientID, log), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// getConfigPath returns the configuration file path.
// Uses DEVLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DEVLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the session and optional InfluxDB connection.
func healthCheck(ctx context.Context, sess *link.Session, influxClient *influxdb.Client) error {
	if err := sess.HealthCheck(ctx); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
