// Package redact scrubs PII and credentials out of values before they are
// logged. Nothing in this package is reversible; it exists so that webhook
// bodies and tenant records can be attached to log lines safely.
package redact

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	tokenSentinel = "[REDACTED_TOKEN]"
	idSentinel    = "[REDACTED_ID]"
)

var (
	phoneRe = regexp.MustCompile(`\+?1?[-.\s(]*\d{3}[-.\s)]*\d{3}[-.\s]*\d{4}`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@([A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)
	// Long opaque strings that look like bearer tokens or API keys.
	tokenRe  = regexp.MustCompile(`\b(?:sk|key|tok|Bearer)[-_ ]?[A-Za-z0-9\-_]{16,}\b`)
	digitsRe = regexp.MustCompile(`\D`)
)

// Keys whose values are always replaced wholesale, whatever they contain.
var sensitiveKeys = map[string]bool{
	"access_token":          true,
	"refresh_token":         true,
	"bearer_token":          true,
	"bearertoken":           true,
	"square_access_token":   true,
	"squareaccesstoken":     true,
	"commerce_access_token": true,
	"authorization":         true,
	"api_key":               true,
	"signing_key":           true,
	"password":              true,
}

var idKeys = map[string]bool{
	"customer_id":          true,
	"square_customer_id":   true,
	"commerce_customer_id": true,
	"merchant_id":          true,
}

// Phone masks a phone number down to its last four digits: XXX-XXX-1234.
func Phone(s string) string {
	digits := digitsRe.ReplaceAllString(s, "")
	if len(digits) < 4 {
		return "XXX-XXX-XXXX"
	}
	return "XXX-XXX-" + digits[len(digits)-4:]
}

// Email keeps only the domain: ****@example.com.
func Email(s string) string {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return "****"
	}
	return "****@" + s[at+1:]
}

// String scrubs free-form text: tokens, emails, then phone-shaped digit runs.
func String(s string) string {
	s = tokenRe.ReplaceAllString(s, tokenSentinel)
	s = emailRe.ReplaceAllStringFunc(s, Email)
	s = phoneRe.ReplaceAllStringFunc(s, Phone)
	return s
}

// Map returns a deep copy of m with sensitive keys and value shapes replaced.
// The input is never mutated.
func Map(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		lk := strings.ToLower(k)
		switch {
		case sensitiveKeys[lk]:
			out[k] = tokenSentinel
		case idKeys[lk]:
			out[k] = idSentinel
		default:
			out[k] = value(lk, v)
		}
	}
	return out
}

func value(lowerKey string, v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if strings.Contains(lowerKey, "phone") || strings.Contains(lowerKey, "number") {
			return Phone(t)
		}
		if strings.Contains(lowerKey, "email") {
			return Email(t)
		}
		return String(t)
	case map[string]interface{}:
		return Map(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = value(lowerKey, e)
		}
		return out
	default:
		return v
	}
}

// JSON scrubs a raw JSON document. Non-JSON input is treated as free text.
func JSON(raw []byte) string {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return String(string(raw))
	}
	b, err := json.Marshal(Map(m))
	if err != nil {
		return String(string(raw))
	}
	return string(b)
}
