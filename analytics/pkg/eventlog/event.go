// Package eventlog holds the data model shared by the query engine and the store
// backends: raw events, their semi-structured payloads, scopes and result rows.
package eventlog

import (
	"encoding/json"
	"time"
)

// Event is an immutable record from the append-only event log.
type Event struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	EventType        string    `json:"eventType"`
	DeviceID         *string   `json:"deviceId"`
	LocationID       *string   `json:"locationId"`
	PrimaryProfileID *string   `json:"primaryProfileId"`
	Payload          Payload   `json:"payload"`
}

// EventRow is the row shape returned to callers. It is the same record; the alias keeps
// the output vocabulary stable if the stored shape grows.
type EventRow = Event

// Ref returns the value of a nullable reference, treating nil and "" alike.
func Ref(p *string) (string, bool) {
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Payload is a schema-less document whose shape depends on the event type. Values are
// whatever encoding/json produces: string, float64, bool, nil, []any, map[string]any.
type Payload map[string]any

// DecodePayload parses a JSON object. Empty input and JSON null give an empty payload.
func DecodePayload(data []byte) (Payload, error) {
	p := Payload{}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// Encode returns the JSON form with keys sorted.
func (p Payload) Encode() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(p))
}

// Get returns the raw value stored under key.
func (p Payload) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p[key]
	return v, ok
}

// String returns the value under key when it is a non-empty string.
func (p Payload) String(key string) (string, bool) {
	v, ok := p.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// StringSlice returns the non-empty string elements of the array under key. The bool
// is false when the key is missing or does not hold an array; an array with no usable
// elements returns an empty slice and true.
func (p Payload) StringSlice(key string) ([]string, bool) {
	v, ok := p.Get(key)
	if !ok {
		return nil, false
	}
	var out []string
	switch arr := v.(type) {
	case []any:
		out = make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = make([]string, 0, len(arr))
		for _, s := range arr {
			if s != "" {
				out = append(out, s)
			}
		}
	default:
		return nil, false
	}
	return out, true
}
