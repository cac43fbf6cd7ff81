// Package initcall assembles everything an inbound call needs before the
// first agent turn: commerce lookups fanned out in parallel, durable customer
// memory, and the dynamic-variable payload returned to the voice platform.
package initcall

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/commerce"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/internal/services/memory"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxBookingsReturned = 10
	pastBookingsWindow  = 30 * 24 * time.Hour
	pastBookingsLimit   = 50
)

// FormattedBooking is one booking rendered for the agent, with every field a
// string the prompt can splice in directly.
type FormattedBooking struct {
	BookingID          string `json:"booking_id"`
	Date               string `json:"date"`
	Time               string `json:"time"`
	DaysAway           int    `json:"days_away"`
	Timeframe          string `json:"timeframe"`
	Status             string `json:"status"`
	ServiceVariationID string `json:"service_variation_id,omitempty"`
	StaffID            string `json:"staff_id,omitempty"`
	StartAt            string `json:"start_at"`
}

// CustomerContext is the aggregate handed to the inbound response builder.
// Branch failures leave their slice empty rather than failing the whole
// aggregate.
type CustomerContext struct {
	Customer         *commerce.Customer
	UpcomingBookings []FormattedBooking
	PastBookings     []FormattedBooking
	Services         []*commerce.ServiceVariation
	Staff            []*commerce.TeamMember
	Memory           *memory.CustomerContext
	LookupFailed     bool
}

// Aggregator runs the inbound fanout.
type Aggregator struct {
	commerce *commerce.Client
	memory   *memory.Service
	now      func() time.Time
}

// NewAggregator creates the inbound aggregator. memorySvc may be nil when no
// database is configured.
func NewAggregator(client *commerce.Client, memorySvc *memory.Service) *Aggregator {
	return &Aggregator{commerce: client, memory: memorySvc, now: time.Now}
}

// Aggregate looks up the caller and, when found, fans out the remaining
// commerce reads in parallel. Every branch tolerates its own failure: a dead
// upstream still produces a usable greeting.
func (a *Aggregator) Aggregate(ctx context.Context, creds *domain.Credentials, callerNumber string) *CustomerContext {
	cctx := &CustomerContext{}

	customer, err := a.lookupCustomer(ctx, creds, callerNumber)
	if err != nil {
		logger.Base().Warn("customer lookup failed, continuing as unknown caller",
			zap.String("agent_id", creds.AgentID),
			zap.Error(err),
		)
		cctx.LookupFailed = true
	}
	cctx.Customer = customer

	var wg sync.WaitGroup
	branch := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Base().Warn("inbound aggregation branch failed",
					zap.String("branch", name),
					zap.String("agent_id", creds.AgentID),
					zap.Error(err),
				)
			}
		}()
	}

	if customer != nil {
		branch("upcoming_bookings", func() error {
			bookings, err := a.upcomingBookings(ctx, creds, customer.ID)
			cctx.UpcomingBookings = bookings
			return err
		})
		branch("past_bookings", func() error {
			bookings, err := a.pastBookings(ctx, creds, customer.ID)
			cctx.PastBookings = bookings
			return err
		})
	}
	branch("catalog", func() error {
		services, err := a.commerce.ListServiceVariations(ctx, creds)
		cctx.Services = services
		return err
	})
	branch("staff", func() error {
		staff, err := a.commerce.ListTeamMembers(ctx, creds)
		cctx.Staff = staff
		return err
	})
	wg.Wait()

	a.attachMemory(ctx, creds, callerNumber, cctx)
	return cctx
}

// lookupCustomer tries the normalized number first and falls back through
// the common formatting variants until one matches.
func (a *Aggregator) lookupCustomer(ctx context.Context, creds *domain.Credentials, callerNumber string) (*commerce.Customer, error) {
	var lastErr error
	for _, variant := range domain.PhoneVariants(callerNumber) {
		customer, err := a.commerce.SearchCustomerByPhone(ctx, creds, variant)
		if err != nil {
			lastErr = err
			continue
		}
		if customer != nil {
			return customer, nil
		}
	}
	return nil, lastErr
}

func (a *Aggregator) upcomingBookings(ctx context.Context, creds *domain.Credentials, customerID string) ([]FormattedBooking, error) {
	now := a.now()
	bookings, err := a.commerce.SearchBookings(ctx, creds, commerce.BookingQuery{
		CustomerID: customerID,
		StartMin:   now,
		Limit:      maxBookingsReturned,
	})
	if err != nil {
		return nil, err
	}
	var kept []*commerce.Booking
	for _, b := range bookings {
		if b.Status == commerce.BookingStatusAccepted || b.Status == commerce.BookingStatusPending {
			kept = append(kept, b)
		}
	}
	sortBookings(kept, true)
	return a.formatBookings(kept, creds.Timezone, now), nil
}

func (a *Aggregator) pastBookings(ctx context.Context, creds *domain.Credentials, customerID string) ([]FormattedBooking, error) {
	now := a.now()
	bookings, err := a.commerce.SearchBookings(ctx, creds, commerce.BookingQuery{
		CustomerID: customerID,
		StartMin:   now.Add(-pastBookingsWindow),
		StartMax:   now,
		Limit:      pastBookingsLimit,
	})
	if err != nil {
		return nil, err
	}
	var kept []*commerce.Booking
	for _, b := range bookings {
		if b.Status == commerce.BookingStatusAccepted {
			kept = append(kept, b)
		}
	}
	sortBookings(kept, false)
	return a.formatBookings(kept, creds.Timezone, now), nil
}

func (a *Aggregator) attachMemory(ctx context.Context, creds *domain.Credentials, callerNumber string, cctx *CustomerContext) {
	if a.memory == nil {
		return
	}
	// Memory rows are keyed by tenant UUID; config-sourced tenants have none.
	if _, err := uuid.Parse(creds.TenantID); err != nil {
		return
	}
	mctx, err := a.memory.GetCustomerContext(ctx, creds.TenantID, callerNumber)
	if err != nil {
		logger.Base().Warn("customer memory read failed",
			zap.String("tenant_id", creds.TenantID),
			zap.Error(err),
		)
		return
	}
	cctx.Memory = mctx
}

func sortBookings(bookings []*commerce.Booking, ascending bool) {
	sort.SliceStable(bookings, func(i, j int) bool {
		if ascending {
			return bookings[i].StartAt.Before(bookings[j].StartAt)
		}
		return bookings[i].StartAt.After(bookings[j].StartAt)
	})
}

func (a *Aggregator) formatBookings(bookings []*commerce.Booking, timezone string, now time.Time) []FormattedBooking {
	if len(bookings) > maxBookingsReturned {
		bookings = bookings[:maxBookingsReturned]
	}
	loc := loadLocation(timezone)
	formatted := make([]FormattedBooking, 0, len(bookings))
	for _, b := range bookings {
		local := b.StartAt.In(loc)
		daysAway := daysBetween(now.In(loc), local)
		fb := FormattedBooking{
			BookingID: b.ID,
			Date:      local.Format("Monday, January 2, 2006"),
			Time:      local.Format("3:04 PM"),
			DaysAway:  daysAway,
			Timeframe: timeframe(daysAway),
			Status:    b.Status,
			StartAt:   b.StartAt.Format(time.RFC3339),
		}
		if len(b.Segments) > 0 {
			fb.ServiceVariationID = b.Segments[0].ServiceVariationID
			fb.StaffID = b.Segments[0].TeamMemberID
		}
		formatted = append(formatted, fb)
	}
	return formatted
}

func loadLocation(timezone string) *time.Location {
	if timezone == "" {
		timezone = domain.DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// daysBetween counts calendar-day boundaries in the tenant timezone, so a
// booking tomorrow morning is 1 day away even at 11pm the night before.
func daysBetween(from, to time.Time) int {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	return int(toDay.Sub(fromDay) / (24 * time.Hour))
}

func timeframe(daysAway int) string {
	switch {
	case daysAway < -1:
		return fmt.Sprintf("%d days ago", -daysAway)
	case daysAway == -1:
		return "yesterday"
	case daysAway == 0:
		return "today"
	case daysAway == 1:
		return "tomorrow"
	case daysAway <= 7:
		return fmt.Sprintf("in %d days", daysAway)
	case daysAway <= 14:
		return "next week"
	default:
		weeks := daysAway / 7
		return fmt.Sprintf("in %d weeks", weeks)
	}
}

// StaffNames joins bookable staff display names for the greeting, falling
// back to the default team label.
func StaffNames(staff []*commerce.TeamMember) string {
	var names []string
	for _, member := range staff {
		if !member.IsBookable {
			continue
		}
		name := member.DisplayName
		if name == "" {
			name = strings.TrimSpace(member.GivenName + " " + member.FamilyName)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return DefaultStaffName
	}
	return strings.Join(names, ", ")
}
