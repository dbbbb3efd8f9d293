// Package flags loads feature flags once at start-up and hands them to the
// modules that need them.
package flags

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	PropertyCreation     = "property_creation"
	PropertyIQEnrichment = "property_iq_enrichment"
	LeadAutoresponder    = "lead_autoresponder"
	WebhookIntegration   = "webhook_integration"
	BulkActions          = "bulk_actions"
	AdvancedAnalytics    = "advanced_analytics"
	ChatWidget           = "chat_widget"
	AIValidation         = "ai_validation"
	PropertyEstimates    = "property_estimates"
	LeadCRUD             = "lead_crud"
	CampaignManagement   = "campaign_management"
	PropertyIQ           = "property_iq"
	LeadRobot            = "lead_robot"
	AIConcierge          = "ai_concierge"
)

// Defaults are the built-in flag values used when no file overrides them.
func Defaults() map[string]bool {
	return map[string]bool{
		PropertyCreation:     true,
		PropertyIQEnrichment: true,
		LeadAutoresponder:    false,
		WebhookIntegration:   true,
		BulkActions:          true,
		AdvancedAnalytics:    false,
		ChatWidget:           true,
		AIValidation:         true,
		PropertyEstimates:    false,
		LeadCRUD:             true,
		CampaignManagement:   false,
		PropertyIQ:           true,
		LeadRobot:            false,
		AIConcierge:          false,
	}
}

// Set is an immutable snapshot of flag values.
type Set struct {
	values map[string]bool
}

// New builds a Set from the defaults overridden by values.
func New(values map[string]bool) *Set {
	merged := Defaults()
	for name, enabled := range values {
		merged[strings.ToLower(strings.TrimSpace(name))] = enabled
	}
	return &Set{values: merged}
}

type fileFormat struct {
	Flags map[string]bool `yaml:"flags"`
}

// Load reads a YAML file of the form:
//
//	flags:
//	  webhook_integration: false
//
// An empty path yields the defaults.
func Load(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return New(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature flags: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML flag document.
func Parse(raw []byte) (*Set, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse feature flags: %w", err)
	}
	return New(doc.Flags), nil
}

// Enabled reports whether name is on. Unknown flags are off. A nil Set uses defaults.
func (s *Set) Enabled(name string) bool {
	if s == nil {
		return Defaults()[name]
	}
	return s.values[name]
}

// Flag is a name/value pair for listing.
type Flag struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// All returns every flag sorted by name.
func (s *Set) All() []Flag {
	values := Defaults()
	if s != nil {
		values = s.values
	}
	out := make([]Flag, 0, len(values))
	for name, enabled := range values {
		out = append(out, Flag{Name: name, Enabled: enabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
