package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTelemetry  = "telemetry"
	MeasurementLinkEvents = "link_events"
)

// WriteTelemetry writes one telemetry sample tagged with its key. Only
// numeric and boolean fields are stored; a sample with none is skipped.
//
// Example:
//
//	client.WriteTelemetry("results", map[string]any{"t1": 21.5, "t2": 22.0}, time.Now())
func (c *Client) WriteTelemetry(key string, fields map[string]any, ts time.Time) {
	stored := storableFields(fields)
	if key == "" || len(stored) == 0 {
		c.skipped.Add(1)
		return
	}
	c.WritePointWithTime(MeasurementTelemetry, map[string]string{"key": key}, stored, ts)
}

// WriteLinkEvent records a connection lifecycle event such as "connected"
// or "connection_lost".
func (c *Client) WriteLinkEvent(event string) {
	c.WritePoint(MeasurementLinkEvents, map[string]string{"event": event}, map[string]any{"count": 1})
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		c.skipped.Add(1)
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
	c.written.Add(1)
}

// storableFields keeps the fields InfluxDB can chart: numbers and booleans.
func storableFields(fields map[string]any) map[string]any {
	stored := make(map[string]any, len(fields))
	for k, v := range fields {
		switch v.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64, bool:
			stored[k] = v
		}
	}
	return stored
}
