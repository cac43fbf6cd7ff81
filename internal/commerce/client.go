// Package commerce is the read-through client for the external bookings,
// customers, catalog and staff service. Records fetched here are never cached
// beyond the lifetime of a single request.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"go.uber.org/zap"
)

// Booking statuses the gateway filters on.
const (
	BookingStatusAccepted = "ACCEPTED"
	BookingStatusPending  = "PENDING"
)

// Client talks to the commerce API with per-tenant credentials supplied on
// every call.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a commerce client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 8 * time.Second,
		},
	}
}

// Customer is a commerce customer record.
type Customer struct {
	ID          string `json:"id"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	Email       string `json:"email_address"`
	PhoneNumber string `json:"phone_number"`
}

// BookingSegment is one service/staff pairing inside a booking. Ids arrive
// from the upstream as arbitrary-precision numbers in some fields and are
// normalized to strings here.
type BookingSegment struct {
	ServiceVariationID      string `json:"service_variation_id"`
	ServiceVariationVersion string `json:"service_variation_version"`
	TeamMemberID            string `json:"team_member_id"`
	DurationMinutes         int    `json:"duration_minutes"`
}

// Booking is a commerce booking record.
type Booking struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	StartAt    time.Time        `json:"start_at"`
	CustomerID string           `json:"customer_id"`
	LocationID string           `json:"location_id"`
	Segments   []BookingSegment `json:"appointment_segments"`
}

// ServiceVariation is one bookable service variation from the catalog.
type ServiceVariation struct {
	ID              string `json:"id"`
	Version         string `json:"version"`
	ServiceName     string `json:"service_name"`
	VariationName   string `json:"variation_name"`
	PriceAmount     string `json:"price_amount"`
	PriceCurrency   string `json:"price_currency"`
	DurationMinutes int    `json:"duration_minutes"`
}

// TeamMember is one staff member on the tenant's roster.
type TeamMember struct {
	ID          string `json:"id"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	DisplayName string `json:"display_name"`
	IsBookable  bool   `json:"is_bookable"`
}

// SearchCustomerByPhone finds the customer matching a phone number exactly.
// Returns (nil, nil) on no match.
func (c *Client) SearchCustomerByPhone(ctx context.Context, creds *domain.Credentials, phone string) (*Customer, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"filter": map[string]interface{}{
				"phone_number": map[string]interface{}{"exact": phone},
			},
		},
		"limit": 1,
	}
	var out struct {
		Customers []*Customer `json:"customers"`
	}
	if err := c.do(ctx, creds, http.MethodPost, "/v2/customers/search", body, &out, true); err != nil {
		return nil, err
	}
	if len(out.Customers) == 0 {
		return nil, nil
	}
	return out.Customers[0], nil
}

// BookingQuery bounds a booking search.
type BookingQuery struct {
	CustomerID string
	StartMin   time.Time
	StartMax   time.Time
	Limit      int
}

// SearchBookings lists bookings for a customer within a time window.
func (c *Client) SearchBookings(ctx context.Context, creds *domain.Credentials, q BookingQuery) ([]*Booking, error) {
	params := url.Values{}
	params.Set("customer_id", q.CustomerID)
	params.Set("location_id", creds.LocationID)
	if !q.StartMin.IsZero() {
		params.Set("start_at_min", q.StartMin.UTC().Format(time.RFC3339))
	}
	if !q.StartMax.IsZero() {
		params.Set("start_at_max", q.StartMax.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.Limit))
	}

	var out struct {
		Bookings []json.RawMessage `json:"bookings"`
	}
	if err := c.do(ctx, creds, http.MethodGet, "/v2/bookings?"+params.Encode(), nil, &out, true); err != nil {
		return nil, err
	}

	bookings := make([]*Booking, 0, len(out.Bookings))
	for _, raw := range out.Bookings {
		b, err := parseBooking(raw)
		if err != nil {
			logger.Base().Warn("skipping unparseable booking", zap.Error(err))
			continue
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}

// ListServiceVariations fetches the tenant's bookable catalog.
func (c *Client) ListServiceVariations(ctx context.Context, creds *domain.Credentials) ([]*ServiceVariation, error) {
	var out struct {
		Objects []json.RawMessage `json:"objects"`
	}
	if err := c.do(ctx, creds, http.MethodGet, "/v2/catalog/list?types=ITEM", nil, &out, true); err != nil {
		return nil, err
	}

	var variations []*ServiceVariation
	for _, raw := range out.Objects {
		variations = append(variations, parseCatalogObject(raw)...)
	}
	return variations, nil
}

// ListTeamMembers fetches the tenant's bookable staff roster.
func (c *Client) ListTeamMembers(ctx context.Context, creds *domain.Credentials) ([]*TeamMember, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"filter": map[string]interface{}{
				"location_ids": []string{creds.LocationID},
				"status":       "ACTIVE",
			},
		},
	}
	var out struct {
		TeamMembers []*TeamMember `json:"team_members"`
	}
	if err := c.do(ctx, creds, http.MethodPost, "/v2/team-members/search", body, &out, true); err != nil {
		return nil, err
	}
	return out.TeamMembers, nil
}

// CreateBookingRequest carries the fields for a new booking.
type CreateBookingRequest struct {
	CustomerID              string
	StartAt                 time.Time
	ServiceVariationID      string
	ServiceVariationVersion string
	TeamMemberID            string
	Note                    string
}

// CreateBooking books an appointment. Not retried; booking creation is not
// idempotent.
func (c *Client) CreateBooking(ctx context.Context, creds *domain.Credentials, req CreateBookingRequest) (*Booking, error) {
	segment := map[string]interface{}{
		"service_variation_id": req.ServiceVariationID,
		"team_member_id":       req.TeamMemberID,
	}
	if req.ServiceVariationVersion != "" {
		segment["service_variation_version"] = json.Number(req.ServiceVariationVersion)
	}
	body := map[string]interface{}{
		"booking": map[string]interface{}{
			"customer_id":          req.CustomerID,
			"location_id":          creds.LocationID,
			"start_at":             req.StartAt.UTC().Format(time.RFC3339),
			"appointment_segments": []interface{}{segment},
			"customer_note":        req.Note,
		},
	}
	var out struct {
		Booking json.RawMessage `json:"booking"`
	}
	if err := c.do(ctx, creds, http.MethodPost, "/v2/bookings", body, &out, false); err != nil {
		return nil, err
	}
	return parseBooking(out.Booking)
}

const maxReadAttempts = 3

// do issues one request against the commerce API. Idempotent reads are
// retried with jittered exponential backoff; writes go out exactly once.
func (c *Client) do(ctx context.Context, creds *domain.Credentials, method, path string, body interface{}, out interface{}, idempotent bool) error {
	attempts := 1
	if idempotent {
		attempts = maxReadAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 250 * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.doOnce(ctx, creds, method, path, body, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			break
		}
		logger.Base().Warn("commerce request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

// statusError marks upstream HTTP failures so retry logic can pick on them.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("commerce api returned %d: %s", e.status, e.body)
}

// StatusCode returns the upstream HTTP status behind err, or 0 for
// transport-level failures.
func StatusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

func retryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	// Transport-level failures are retryable for idempotent reads.
	return true
}

func (c *Client) doOnce(ctx context.Context, creds *domain.Credentials, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("commerce request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read commerce response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, body: string(respBody)}
	}
	if out == nil {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode commerce response: %w", err)
	}
	return nil
}

// parseBooking decodes a booking, reducing arbitrary-precision numeric ids
// and versions to strings.
func parseBooking(raw []byte) (*Booking, error) {
	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode booking: %w", err)
	}

	b := &Booking{
		ID:         asString(m["id"]),
		Status:     asString(m["status"]),
		CustomerID: asString(m["customer_id"]),
		LocationID: asString(m["location_id"]),
	}
	if startAt := asString(m["start_at"]); startAt != "" {
		t, err := time.Parse(time.RFC3339, startAt)
		if err != nil {
			return nil, fmt.Errorf("invalid booking start_at %q: %w", startAt, err)
		}
		b.StartAt = t
	}
	if segments, ok := m["appointment_segments"].([]interface{}); ok {
		for _, s := range segments {
			sm, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			seg := BookingSegment{
				ServiceVariationID:      asString(sm["service_variation_id"]),
				ServiceVariationVersion: asString(sm["service_variation_version"]),
				TeamMemberID:            asString(sm["team_member_id"]),
			}
			if d, ok := sm["duration_minutes"].(json.Number); ok {
				if n, err := d.Int64(); err == nil {
					seg.DurationMinutes = int(n)
				}
			}
			b.Segments = append(b.Segments, seg)
		}
	}
	return b, nil
}

// parseCatalogObject flattens one catalog ITEM into its variations.
func parseCatalogObject(raw []byte) []*ServiceVariation {
	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil
	}

	itemData, _ := m["item_data"].(map[string]interface{})
	if itemData == nil {
		return nil
	}
	serviceName := asString(itemData["name"])

	variationsRaw, _ := itemData["variations"].([]interface{})
	var out []*ServiceVariation
	for _, v := range variationsRaw {
		vm, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		sv := &ServiceVariation{
			ID:          asString(vm["id"]),
			Version:     asString(vm["version"]),
			ServiceName: serviceName,
		}
		if vd, ok := vm["item_variation_data"].(map[string]interface{}); ok {
			sv.VariationName = asString(vd["name"])
			if pm, ok := vd["price_money"].(map[string]interface{}); ok {
				sv.PriceAmount = asString(pm["amount"])
				sv.PriceCurrency = asString(pm["currency"])
			}
			if d, ok := vd["service_duration"].(json.Number); ok {
				if ms, err := d.Int64(); err == nil {
					sv.DurationMinutes = int(ms / 60000)
				}
			}
		}
		out = append(out, sv)
	}
	return out
}

// asString renders strings and json.Numbers uniformly; numeric ids must
// never round-trip through float64.
func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
