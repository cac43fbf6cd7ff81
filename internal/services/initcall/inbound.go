package initcall

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/commerce"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/memory"
)

// DefaultStaffName stands in when the catalog has no bookable staff.
const DefaultStaffName = "Our Team"

// InboundResponse is the body returned to the voice platform on
// call_inbound. Every dynamic variable is a string; the prompt runtime does
// not coerce types.
type InboundResponse struct {
	CallInbound InboundConfig `json:"call_inbound"`
}

// InboundConfig carries the per-call variables and metadata.
type InboundConfig struct {
	DynamicVariables map[string]string      `json:"dynamic_variables"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// BuildInboundResponse flattens the aggregate into the dynamic-variable
// payload and composes the greeting. Works from a nil or partially failed
// aggregate; absent slices keep their defaults so the agent can always greet.
func BuildInboundResponse(cctx *CustomerContext, creds *domain.Credentials, callerNumber, callID string) *InboundResponse {
	if cctx == nil {
		cctx = &CustomerContext{}
	}
	loc := loadLocation(creds.Timezone)
	now := time.Now().In(loc)

	vars := map[string]string{
		"call_id":                         callID,
		"caller_id":                       callerID(callerNumber),
		"customer_first_name":             "",
		"customer_last_name":              "",
		"customer_full_name":              "",
		"customer_email":                  "",
		"customer_phone":                  callerNumber,
		"customer_id":                     "",
		"is_returning_customer":           "false",
		"upcoming_bookings_json":          "[]",
		"booking_history_json":            "[]",
		"current_datetime_store_timezone": now.Format("Monday, January 2, 2006 3:04 PM MST"),
		"service_variations_json":         "{}",
		"staff_with_ids_json":             defaultStaffJSON(),
		"available_services":              "our full range of services",
		"available_staff":                 DefaultStaffName,
		"has_open_issues":                 "false",
		"open_issues_json":                "[]",
	}

	// A failed primary lookup degrades to the default variable set; the
	// agent still greets, it just knows nothing about the caller.
	if !cctx.LookupFailed {
		applyCustomer(vars, cctx.Customer)
		applyBookings(vars, cctx)
		applyCatalog(vars, cctx.Services)
		applyStaff(vars, cctx.Staff)
		applyMemory(vars, cctx.Memory)
	}

	displayName := ""
	if !cctx.LookupFailed {
		displayName = customerDisplayName(cctx)
	}
	if msg := vars["initial_message"]; msg != "" {
		vars["initial_message"] = RewriteGreeting(msg, creds.BusinessName)
	} else {
		vars["initial_message"] = Greeting(creds.BusinessName, displayName)
	}

	return &InboundResponse{
		CallInbound: InboundConfig{
			DynamicVariables: vars,
			Metadata: map[string]interface{}{
				"call_id":      callID,
				"agent_id":     creds.AgentID,
				"tenant_id":    creds.TenantID,
				"creds_source": creds.Source,
				"success":      !cctx.LookupFailed,
			},
		},
	}
}

// Greeting always opens with the business name. Unknown callers are asked to
// identify themselves; known callers get a confirmation prompt instead.
func Greeting(businessName, customerName string) string {
	prefix := fmt.Sprintf("Thank you for calling %s, ", businessName)
	if customerName == "" {
		return prefix + "who am I speaking with today?"
	}
	return prefix + fmt.Sprintf("Am I speaking to %s?", customerName)
}

// RewriteGreeting forces an externally supplied greeting to open with the
// business name prefix.
func RewriteGreeting(message, businessName string) string {
	prefix := fmt.Sprintf("Thank you for calling %s, ", businessName)
	if strings.HasPrefix(message, prefix) {
		return message
	}
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return prefix + "who am I speaking with today?"
	}
	return prefix + trimmed
}

// customerDisplayName picks the confirmation name: first, then full, then
// last, falling back to the memory profile.
func customerDisplayName(cctx *CustomerContext) string {
	if cctx.Customer != nil {
		if cctx.Customer.GivenName != "" {
			return cctx.Customer.GivenName
		}
		if cctx.Customer.FamilyName != "" {
			return cctx.Customer.FamilyName
		}
	}
	if cctx.Memory != nil && cctx.Memory.Profile != nil {
		if name := cctx.Memory.Profile.FirstName; name != "" {
			return name
		}
	}
	return ""
}

func applyCustomer(vars map[string]string, customer *commerce.Customer) {
	if customer == nil {
		return
	}
	vars["is_returning_customer"] = "true"
	vars["customer_id"] = customer.ID
	vars["customer_first_name"] = customer.GivenName
	vars["customer_last_name"] = customer.FamilyName
	vars["customer_email"] = customer.Email
	if customer.PhoneNumber != "" {
		vars["customer_phone"] = customer.PhoneNumber
	}
	full := strings.TrimSpace(customer.GivenName + " " + customer.FamilyName)
	vars["customer_full_name"] = full
}

func applyBookings(vars map[string]string, cctx *CustomerContext) {
	if len(cctx.UpcomingBookings) > 0 {
		vars["upcoming_bookings_json"] = mustJSON(cctx.UpcomingBookings)
	}
	if len(cctx.PastBookings) > 0 {
		vars["booking_history_json"] = mustJSON(cctx.PastBookings)
	}
}

func applyCatalog(vars map[string]string, services []*commerce.ServiceVariation) {
	if len(services) == 0 {
		return
	}
	type variationEntry struct {
		ID              string `json:"id"`
		Version         string `json:"version,omitempty"`
		Price           string `json:"price,omitempty"`
		DurationMinutes int    `json:"duration_minutes,omitempty"`
	}
	catalog := make(map[string]variationEntry, len(services))
	var names []string
	for _, svc := range services {
		name := svc.ServiceName
		if svc.VariationName != "" && svc.VariationName != name {
			name = name + " - " + svc.VariationName
		}
		price := ""
		if svc.PriceAmount != "" {
			price = svc.PriceAmount + " " + svc.PriceCurrency
		}
		if _, seen := catalog[name]; !seen {
			names = append(names, name)
		}
		catalog[name] = variationEntry{
			ID:              svc.ID,
			Version:         svc.Version,
			Price:           price,
			DurationMinutes: svc.DurationMinutes,
		}
	}
	vars["service_variations_json"] = mustJSON(catalog)
	vars["available_services"] = strings.Join(names, ", ")
}

func applyStaff(vars map[string]string, staff []*commerce.TeamMember) {
	if len(staff) == 0 {
		return
	}
	type staffEntry struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	}
	var entries []staffEntry
	for _, member := range staff {
		if !member.IsBookable {
			continue
		}
		name := member.DisplayName
		if name == "" {
			name = strings.TrimSpace(member.GivenName + " " + member.FamilyName)
		}
		if name == "" {
			continue
		}
		entries = append(entries, staffEntry{ID: member.ID, Name: name, DisplayName: name})
	}
	if len(entries) == 0 {
		return
	}
	vars["staff_with_ids_json"] = mustJSON(entries)
	vars["available_staff"] = StaffNames(staff)
}

func applyMemory(vars map[string]string, mctx *memory.CustomerContext) {
	if mctx == nil {
		return
	}
	for key, value := range mctx.DynamicVariables {
		vars[key] = value
	}
	if mctx.Profile != nil {
		vars["total_calls"] = strconv.Itoa(mctx.Profile.TotalCalls)
		vars["total_bookings"] = strconv.Itoa(mctx.Profile.TotalBookings)
		if mctx.Profile.PreferredLanguage != "" {
			vars["preferred_language"] = mctx.Profile.PreferredLanguage
		}
		if vars["customer_first_name"] == "" && mctx.Profile.FirstName != "" {
			vars["customer_first_name"] = mctx.Profile.FirstName
			vars["customer_full_name"] = mctx.Profile.FullName()
			vars["is_returning_customer"] = "true"
		}
	}
	if mctx.LastCall != nil && mctx.LastCall.Summary != "" {
		vars["last_call_summary"] = mctx.LastCall.Summary
	}
	if len(mctx.OpenIssues) > 0 {
		type issueEntry struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Priority    string `json:"priority"`
			Status      string `json:"status"`
		}
		entries := make([]issueEntry, 0, len(mctx.OpenIssues))
		for _, issue := range mctx.OpenIssues {
			entries = append(entries, issueEntry{
				Type:        issue.IssueType,
				Description: issue.Description,
				Priority:    issue.Priority,
				Status:      issue.Status,
			})
		}
		vars["has_open_issues"] = "true"
		vars["open_issues_json"] = mustJSON(entries)
	}
}

// callerID keeps the last ten digits, matching how the prompt reads numbers
// back to the caller.
func callerID(phone string) string {
	digits := domain.NormalizePhone(phone)
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

func defaultStaffJSON() string {
	return `[{"id":"default","name":"Our Team","displayName":"Our Team"}]`
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}
