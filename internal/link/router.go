package link

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type messageKind int

const (
	kindUnrecognized messageKind = iota
	kindTelemetry
	kindResponse
)

// routedMessage is the classification of one inbound publish.
type routedMessage struct {
	kind  messageKind
	key   string // telemetry key or command name
	ok    bool   // response outcome
	value any
}

var (
	nanToken  = []byte("NaN")
	nullToken = []byte("null")
)

// DecodePayload decodes a JSON payload into Go values (map[string]any,
// []any, float64, string, bool or nil). Devices emit bare NaN for missing
// readings; NaN outside string literals decodes as null. String contents are
// left unchanged.
func DecodePayload(payload []byte) (any, error) {
	payload = replaceBareNaN(payload)
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return v, nil
}

// replaceBareNaN rewrites NaN tokens outside JSON strings to null.
func replaceBareNaN(payload []byte) []byte {
	if !bytes.Contains(payload, nanToken) {
		return payload
	}

	out := make([]byte, 0, len(payload)+len(nullToken))
	inString, escaped := false, false
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		switch {
		case inString:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		case c == '"':
			inString = true
		case bytes.HasPrefix(payload[i:], nanToken):
			out = append(out, nullToken...)
			i += len(nanToken) - 1
			continue
		}
		out = append(out, c)
	}
	return out
}

// EncodeValue encodes a command argument. A nil value encodes as JSON true.
// json.RawMessage values are sent unchanged.
func EncodeValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("true"), nil
	case json.RawMessage:
		if !json.Valid(val) {
			return nil, fmt.Errorf("encoding value: invalid raw JSON")
		}
		return val, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return data, nil
}

// classify maps a topic onto the namespaces. Prefix matching is by whole
// segments, so "data/picalor/core2/x" does not match prefix "data/picalor/core".
func (t Topics) classify(topic string) (kind messageKind, key string, ok bool) {
	if rest, found := cutPrefix(topic, t.Data); found {
		segments := strings.Split(rest, "/")
		key = segments[len(segments)-1]
		if key == "" {
			return kindUnrecognized, "", false
		}
		return kindTelemetry, key, false
	}
	if rest, found := cutPrefix(topic, t.Response); found {
		segments := strings.Split(rest, "/")
		if len(segments) < 2 {
			return kindUnrecognized, "", false
		}
		key = segments[len(segments)-1]
		if key == "" {
			return kindUnrecognized, "", false
		}
		// Anything other than "ok" counts as failure.
		return kindResponse, key, segments[len(segments)-2] == OutcomeOK
	}
	return kindUnrecognized, "", false
}

func cutPrefix(topic, prefix string) (string, bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found || rest == "" {
		return "", false
	}
	return rest, true
}

// route classifies and decodes an inbound publish. Unrecognized topics are
// returned without decoding the payload.
func (t Topics) route(topic string, payload []byte) (routedMessage, error) {
	kind, key, ok := t.classify(topic)
	if kind == kindUnrecognized {
		return routedMessage{kind: kindUnrecognized}, nil
	}
	value, err := DecodePayload(payload)
	if err != nil {
		return routedMessage{kind: kindUnrecognized}, err
	}
	return routedMessage{kind: kind, key: key, ok: ok, value: value}, nil
}
