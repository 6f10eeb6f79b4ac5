package link

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Response outcome segments.
const (
	OutcomeOK  = "ok"
	OutcomeErr = "err"
)

// Topics holds the three topic namespace prefixes, without trailing slashes.
type Topics struct {
	Data     string // telemetry, e.g. "data/picalor/core"
	Request  string // command requests, e.g. "cmd/picalor/core/req"
	Response string // command responses, e.g. "cmd/picalor/core/resp"
}

// Validate checks that all prefixes are set and wildcard-free.
func (t Topics) Validate() error {
	prefixes := []struct{ name, value string }{
		{"data", t.Data},
		{"request", t.Request},
		{"response", t.Response},
	}
	for _, p := range prefixes {
		name, prefix := p.name, p.value
		if prefix == "" {
			return fmt.Errorf("%s prefix is required", name)
		}
		if strings.ContainsAny(prefix, "+#") || strings.HasSuffix(prefix, "/") {
			return fmt.Errorf("%s prefix %q must not contain wildcards or a trailing slash", name, prefix)
		}
	}
	return nil
}

// Telemetry returns the topic for telemetry key.
func (t Topics) Telemetry(key string) string {
	return t.Data + "/" + key
}

// TelemetryErrors returns the topic devices publish error strings on.
func (t Topics) TelemetryErrors() string {
	return t.Data + "/errors"
}

// CommandRequest returns the request topic for command.
func (t Topics) CommandRequest(command string) string {
	return t.Request + "/" + command
}

// CommandResponse returns the response topic for command with the given outcome.
func (t Topics) CommandResponse(command string, ok bool) string {
	outcome := OutcomeErr
	if ok {
		outcome = OutcomeOK
	}
	return t.Response + "/" + outcome + "/" + command
}

// TelemetryFilter matches every telemetry key.
func (t Topics) TelemetryFilter() string {
	return t.Data + "/+"
}

// ResponseFilter matches every command response.
func (t Topics) ResponseFilter() string {
	return t.Response + "/+/+"
}

// RequestFilter matches every command request. Used by the device side.
func (t Topics) RequestFilter() string {
	return t.Request + "/+"
}

// NewClientID derives a broker client identity from prefix and a random suffix.
func NewClientID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:8]
}
