package postcall

import (
	"fmt"
	"strings"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/redact"
)

// DefaultCostAlertCents flags calls that cost ten dollars or more.
const DefaultCostAlertCents = 1000

const spamAgentState = "identify_spam_call"

// emailKind picks the subject line family.
type emailKind int

const (
	emailNormal emailKind = iota
	emailIssue
	emailSpam
)

func classifyEmail(call *Call) emailKind {
	if call.CurrentAgentState == spamAgentState {
		return emailSpam
	}
	if !call.Successful || strings.EqualFold(call.Sentiment, "Negative") {
		return emailIssue
	}
	return emailNormal
}

func emailSubject(kind emailKind, businessName, caller string) string {
	switch kind {
	case emailSpam:
		return fmt.Sprintf("Spam call screened - %s", businessName)
	case emailIssue:
		return fmt.Sprintf("Attention needed: call from %s - %s", caller, businessName)
	default:
		return fmt.Sprintf("Call summary: %s - %s", caller, businessName)
	}
}

// FormatCostCents renders a cost given in cents as a dollar string.
func FormatCostCents(cents float64) string {
	return fmt.Sprintf("$%.2f", cents/100)
}

func emailBody(call *Call, analysis map[string]interface{}, creds *domain.Credentials, costAlertCents float64) string {
	var b strings.Builder
	caller := redact.Phone(call.FromNumber)

	fmt.Fprintf(&b, "Call summary for %s\n", creds.BusinessName)
	fmt.Fprintf(&b, "%s\n\n", strings.Repeat("=", 40))
	fmt.Fprintf(&b, "Caller: %s\n", caller)
	fmt.Fprintf(&b, "Call ID: %s\n", call.CallID)
	if call.StartedAt != nil {
		loc := call.StartedAt.Location()
		if tz, err := time.LoadLocation(creds.Timezone); err == nil && creds.Timezone != "" {
			loc = tz
		}
		fmt.Fprintf(&b, "Time: %s\n", call.StartedAt.In(loc).Format("Monday, January 2, 2006 3:04 PM MST"))
	}
	if call.DurationSeconds > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", (time.Duration(call.DurationSeconds) * time.Second).String())
	}
	fmt.Fprintf(&b, "Outcome: %s\n", outcomeLabel(call))
	if call.Sentiment != "" {
		fmt.Fprintf(&b, "Sentiment: %s\n", call.Sentiment)
	}
	if call.CostCents > 0 {
		fmt.Fprintf(&b, "Cost: %s", FormatCostCents(call.CostCents))
		if call.CostCents >= costAlertCents {
			b.WriteString("  ** above alert threshold **")
		}
		b.WriteString("\n")
	}

	if call.Summary != "" {
		fmt.Fprintf(&b, "\nSummary\n-------\n%s\n", call.Summary)
	}

	if call.BookingCreated {
		b.WriteString("\nA booking was created during this call.\n")
		if call.BookingID != "" {
			fmt.Fprintf(&b, "Booking ID: %s\n", call.BookingID)
		}
	}

	if questions, ok := analysis["unanswered_questions"].([]interface{}); ok && len(questions) > 0 {
		b.WriteString("\nUnanswered questions\n--------------------\n")
		for _, q := range questions {
			if text, ok := q.(string); ok && strings.TrimSpace(text) != "" {
				fmt.Fprintf(&b, "- %s\n", text)
			}
		}
	}
	if boolField(analysis, "callback_requested") {
		b.WriteString("\nThe caller requested a callback.\n")
		if reason := stringField(analysis, "callback_reason"); reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", reason)
		}
	}

	if call.Transcript != "" {
		fmt.Fprintf(&b, "\nTranscript\n----------\n%s\n", redact.String(call.Transcript))
	}
	return b.String()
}

func outcomeLabel(call *Call) string {
	switch {
	case call.CurrentAgentState == spamAgentState:
		return "Screened as spam"
	case call.BookingCreated:
		return "Booking created"
	case call.Successful:
		return "Completed"
	default:
		return "Needs followup"
	}
}
