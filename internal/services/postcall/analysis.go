package postcall

import (
	"encoding/json"
	"strings"
)

// NormalizeAnalysis accepts the three shapes call_analysis arrives in: a
// plain object, a JSON string, or an array of {name, value} items, and
// returns a flat map. Unrecognized shapes yield an empty map, never an error.
func NormalizeAnalysis(raw interface{}) map[string]interface{} {
	switch v := raw.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		if custom, ok := v["custom_analysis_data"].(map[string]interface{}); ok {
			merged := make(map[string]interface{}, len(v)+len(custom))
			for k, val := range v {
				if k == "custom_analysis_data" {
					continue
				}
				merged[k] = val
			}
			for k, val := range custom {
				merged[k] = val
			}
			return merged
		}
		return v
	case string:
		var parsed interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return map[string]interface{}{}
		}
		if _, isString := parsed.(string); isString {
			return map[string]interface{}{}
		}
		return NormalizeAnalysis(parsed)
	case []interface{}:
		out := make(map[string]interface{}, len(v))
		for _, item := range v {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := entry["name"].(string)
			if name == "" {
				continue
			}
			out[name] = entry["value"]
		}
		return out
	default:
		return map[string]interface{}{}
	}
}

// Turn is one transcript utterance.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HasUserTurn reports whether the caller actually said anything. Voicemail
// and instant hangups produce agent-only transcripts that should not trigger
// summary email.
func HasUserTurn(turns []Turn, transcript string) bool {
	if len(turns) > 0 {
		for _, turn := range turns {
			if strings.EqualFold(turn.Role, "user") && strings.TrimSpace(turn.Content) != "" {
				return true
			}
		}
		return false
	}
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "User:"); ok && strings.TrimSpace(rest) != "" {
			return true
		}
	}
	return false
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func boolField(m map[string]interface{}, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}
