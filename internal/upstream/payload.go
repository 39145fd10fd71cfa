package upstream

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Payload is the set of form fields sent to a tool endpoint.
type Payload map[string]string

// ParsePayload decodes the caller's JSON-encoded payload string. An empty
// string is treated as "{}". String values are sent unquoted; numbers,
// booleans, arrays and objects are sent as their JSON text; nulls are dropped.
func ParsePayload(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	if !gjson.Valid(raw) {
		return nil, ErrInvalidPayload
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidPayload)
	}

	out := make(Payload)
	doc.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.Null:
		case gjson.String:
			out[key.String()] = value.Str
		default:
			out[key.String()] = value.Raw
		}
		return true
	})
	return out, nil
}

// Merge layers payload over defaults. Caller-supplied fields always win.
func Merge(defaults map[string]string, payload Payload) Payload {
	out := make(Payload, len(defaults)+len(payload))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetIfNotEmpty stores value under key unless it is blank.
func (p Payload) SetIfNotEmpty(key, value string) {
	if strings.TrimSpace(value) != "" {
		p[key] = value
	}
}
