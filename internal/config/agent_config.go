package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AgentDescriptor is one entry in the agent-config file: the per-tenant
// credential descriptor distributed through the secret store. Field names
// match the upload format exactly.
type AgentDescriptor struct {
	AgentID             string `json:"agentId"`
	BearerToken         string `json:"bearerToken"`
	SquareAccessToken   string `json:"squareAccessToken"`
	SquareLocationID    string `json:"squareLocationId"`
	SquareApplicationID string `json:"squareApplicationId"`
	Timezone            string `json:"timezone"`

	SquareRefreshToken        string   `json:"squareRefreshToken,omitempty"`
	SquareTokenExpiresAt      string   `json:"squareTokenExpiresAt,omitempty"`
	SquareScopes              []string `json:"squareScopes,omitempty"`
	SquareMerchantID          string   `json:"squareMerchantId,omitempty"`
	SupportsSellerLevelWrites bool     `json:"supportsSellerLevelWrites,omitempty"`
	DefaultLocationID         string   `json:"defaultLocationId,omitempty"`
	StaffEmail                string   `json:"staffEmail,omitempty"`
	BusinessName              string   `json:"businessName,omitempty"`
	SquareEnvironment         string   `json:"squareEnvironment,omitempty"`
}

// Validate checks the required descriptor fields, returning every missing
// field name at once.
func (d *AgentDescriptor) Validate() error {
	var missing []string
	if d.AgentID == "" {
		missing = append(missing, "agentId")
	}
	if d.BearerToken == "" {
		missing = append(missing, "bearerToken")
	}
	if d.SquareAccessToken == "" {
		missing = append(missing, "squareAccessToken")
	}
	if d.SquareLocationID == "" {
		missing = append(missing, "squareLocationId")
	}
	if d.SquareApplicationID == "" {
		missing = append(missing, "squareApplicationId")
	}
	if d.Timezone == "" {
		missing = append(missing, "timezone")
	}
	if len(missing) > 0 {
		return fmt.Errorf("agent descriptor missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Location returns the effective location id, preferring the explicit default.
func (d *AgentDescriptor) Location() string {
	if d.DefaultLocationID != "" {
		return d.DefaultLocationID
	}
	return d.SquareLocationID
}

// ParseAgentDescriptors parses the agent-config file: a JSON array of
// descriptor objects. Every entry is validated; one bad entry fails the load.
func ParseAgentDescriptors(raw []byte) ([]*AgentDescriptor, error) {
	var descriptors []*AgentDescriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		return nil, fmt.Errorf("agent config is not a JSON array of descriptors: %w", err)
	}
	seen := make(map[string]bool, len(descriptors))
	for i, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("agent config entry %d: %w", i, err)
		}
		if seen[d.AgentID] {
			return nil, fmt.Errorf("agent config entry %d: duplicate agentId %q", i, d.AgentID)
		}
		seen[d.AgentID] = true
	}
	return descriptors, nil
}
