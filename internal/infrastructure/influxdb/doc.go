// Package influxdb stores device telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library: connection with a
// health ping, batched non-blocking writes and asynchronous error reporting.
//
// # Data Layout
//
//	measurement "telemetry"   tags: key, client_id   fields: flattened numeric values
//	measurement "link_events" tags: event, client_id fields: count=1
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("results", map[string]any{"t1": 21.5}, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
