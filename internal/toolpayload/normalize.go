// Package toolpayload unwraps the envelope shapes the voice platform uses to
// deliver tool arguments, handing business logic one flat argument map.
package toolpayload

import (
	"encoding/json"
	"strings"
)

// metaKeys are carrier fields stripped before arguments reach business
// logic. Prefixed families (retell_*, tool_*) are handled separately.
var metaKeys = map[string]bool{
	"call":              true,
	"name":              true,
	"tool":              true,
	"tool_call_id":      true,
	"metadata":          true,
	"execution_message": true,
}

// innerCarriers are checked in priority order on both the outer payload and
// an args object.
var innerCarriers = []string{"input", "arguments", "payload", "parameters", "data"}

// Normalize extracts the actual tool arguments from any of the platform's
// envelope shapes and strips known meta keys. The original map is not
// mutated. A payload with no recognizable carrier is treated as already
// flat.
func Normalize(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}

	// args may itself be an object carrying the arguments, an object
	// wrapping them under input/arguments, or a JSON-encoded string.
	if args, ok := payload["args"]; ok {
		if inner := unwrap(args); len(inner) > 0 {
			return strip(inner)
		}
	}

	for _, key := range innerCarriers {
		if inner, ok := payload[key].(map[string]interface{}); ok && len(inner) > 0 {
			return strip(inner)
		}
	}

	return strip(payload)
}

// unwrap resolves the args carrier: parses a JSON string, then looks for a
// nested inner object before falling back to args itself.
func unwrap(args interface{}) map[string]interface{} {
	var m map[string]interface{}
	switch t := args.(type) {
	case map[string]interface{}:
		m = t
	case string:
		if err := json.Unmarshal([]byte(t), &m); err != nil {
			return nil
		}
	default:
		return nil
	}

	for _, key := range innerCarriers {
		if inner, ok := m[key].(map[string]interface{}); ok && len(inner) > 0 {
			return inner
		}
	}
	return m
}

func strip(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if isMetaKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func isMetaKey(k string) bool {
	lk := strings.ToLower(k)
	if metaKeys[lk] {
		return true
	}
	return strings.HasPrefix(lk, "retell_") || strings.HasPrefix(lk, "tool_")
}
