package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/devlink/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// Telemetry arrives roughly once per second per key, so the defaults
	// favour small batches flushed often.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Stats counts telemetry points by outcome.
type Stats struct {
	// Written points were handed to the batched writer.
	Written uint64
	// Skipped points had no storable fields or arrived while closed.
	Skipped uint64
	// Failed counts asynchronous write errors reported by the server.
	Failed uint64
}

// Client stores device telemetry and link events in an InfluxDB v2 bucket.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes are non-blocking and batched; failures surface through
//     SetOnError, Stats and HealthCheck.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	closed    atomic.Bool
	closeOnce sync.Once

	written atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64

	// reported is the failure count already returned by HealthCheck.
	reported atomic.Uint64

	mu      sync.RWMutex
	lastErr error
	onError func(err error)
}

// Connect checks cfg, pings the server and starts the batched write API.
// tags are attached to every point, typically the session client ID.
//
// Returns:
//   - error: ErrDisabled when cfg.Enabled is false, ErrInvalidConfig when the
//     URL, org or bucket is missing, or wraps ErrConnectionFailed when the
//     server is unreachable or unhealthy
func Connect(ctx context.Context, cfg config.InfluxDBConfig, tags map[string]string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: url, org and bucket are required", ErrInvalidConfig)
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg, tags))

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
	go c.handleWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// clientOptions maps the recorder settings onto the client's batching
// options. Device timestamps carry millisecond resolution.
func clientOptions(cfg config.InfluxDBConfig, tags map[string]string) *influxdb2.Options {
	batchSize := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize)
	}
	flushInterval := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flushInterval = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize).
		SetFlushInterval(uint(flushInterval.Milliseconds())).
		SetPrecision(time.Millisecond)
	for k, v := range tags {
		if v != "" {
			opts.AddDefaultTag(k, v)
		}
	}
	return opts
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.failed.Add(1)

		c.mu.Lock()
		c.lastErr = err
		callback := c.onError
		c.mu.Unlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes buffered telemetry and closes the client. It is idempotent
// and safe on a zero Client.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.client == nil {
			return
		}
		c.writeAPI.Flush()
		c.client.Close()
	})
	return nil
}

// HealthCheck pings the server and reports write failures that occurred
// since the previous HealthCheck.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	failed := c.failed.Load()
	if prev := c.reported.Swap(failed); failed > prev {
		c.mu.RLock()
		lastErr := c.lastErr
		c.mu.RUnlock()
		return fmt.Errorf("%w: %d writes to %s failed: %w", ErrWriteFailed, failed-prev, c.bucket, lastErr)
	}
	return nil
}

// IsConnected reports whether the client accepts writes.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which performs an active ping.
func (c *Client) IsConnected() bool {
	return c.client != nil && !c.closed.Load()
}

// SetOnError sets a callback for asynchronous write errors.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are sent. It is a no-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Stats returns the point counters.
func (c *Client) Stats() Stats {
	return Stats{
		Written: c.written.Load(),
		Skipped: c.skipped.Load(),
		Failed:  c.failed.Load(),
	}
}
