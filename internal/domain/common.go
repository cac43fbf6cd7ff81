package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
)

// JSONB represents a PostgreSQL JSONB column.
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONB.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// DefaultTimezone is assumed when a tenant does not configure one.
const DefaultTimezone = "America/New_York"

// Commerce environment tags.
const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Context entry value types.
const (
	ValueTypeString  = "string"
	ValueTypeJSON    = "json"
	ValueTypeBoolean = "boolean"
)

// Open issue types.
const (
	IssueBookingIncomplete  = "booking_incomplete"
	IssueQuestionUnanswered = "question_unanswered"
	IssueCallbackRequested  = "callback_requested"
)

// Open issue priorities, ordered most urgent first.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Open issue statuses.
const (
	IssueStatusOpen       = "open"
	IssueStatusInProgress = "in_progress"
	IssueStatusResolved   = "resolved"
)

// ContextSourcePostCall tags context entries derived from post-call analysis.
const ContextSourcePostCall = "voice_post_call_analysis"

// AgentVisibleContextKeys is the subset of context keys surfaced to the agent
// as dynamic variables on a future inbound call.
var AgentVisibleContextKeys = map[string]bool{
	"favorite_staff":   true,
	"service_interest": true,
	"preferred_time":   true,
}

// PriorityRank orders priorities for sorting; lower sorts first.
func PriorityRank(p string) int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

var nonDigitRe = regexp.MustCompile(`\D`)

// NormalizePhone reduces any phone format to a bare digit string, stripping
// the US country code when the number is 11 digits with a leading 1.
// "+1 (267) 721-0098", "1-267-721-0098" and "2677210098" all normalize the same.
func NormalizePhone(phone string) string {
	digits := nonDigitRe.ReplaceAllString(phone, "")
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

// PhoneVariants lists equivalent representations of a normalized phone number
// for fallback lookups against the commerce API.
func PhoneVariants(phone string) []string {
	digits := NormalizePhone(phone)
	if len(digits) != 10 {
		return []string{phone}
	}
	return []string{
		"+1" + digits,
		"1" + digits,
		digits,
		fmt.Sprintf("(%s) %s-%s", digits[0:3], digits[3:6], digits[6:]),
		fmt.Sprintf("%s-%s-%s", digits[0:3], digits[3:6], digits[6:]),
	}
}
