package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
var (
	// ErrNotConnected indicates the client is closed or was never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates InfluxDB integration is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrInvalidConfig indicates required settings are missing.
	ErrInvalidConfig = errors.New("influxdb: invalid configuration")

	// ErrWriteFailed is reported by HealthCheck after asynchronous write errors.
	ErrWriteFailed = errors.New("influxdb: telemetry write failed")
)
