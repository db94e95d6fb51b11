package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	domain "github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/services/commission"
)

// RatesFile is the YAML layout of ENGINE_RATES_FILE. Omitted fields keep
// their environment or default values.
//
//	cap_bps: 3500
//	lead_capacity: 3
//	match_limit: 5
//	tiers:
//	  gold: {direct_bps: 3000, override_bps: 500}
type RatesFile struct {
	CapBps       *int64                       `yaml:"cap_bps"`
	LeadCapacity *int                         `yaml:"lead_capacity"`
	MatchLimit   *int                         `yaml:"match_limit"`
	Tiers        map[string]commission.Rates `yaml:"tiers"`
}

// LoadRatesFile parses a rates file.
func LoadRatesFile(path string) (*RatesFile, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read rates file: %w", err)
	}
	var file RatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rates file: %w", err)
	}
	for name := range file.Tiers {
		if _, ok := domain.ParseTier(name); !ok {
			return nil, fmt.Errorf("rates file: unknown tier %q", name)
		}
	}
	return &file, nil
}

// Apply overlays the file onto engine settings. Listed tiers replace the
// matching default tiers; unlisted tiers keep their defaults.
func (f *RatesFile) Apply(e *EngineConfig) {
	if f.CapBps != nil {
		e.CapBps = *f.CapBps
	}
	if f.LeadCapacity != nil {
		e.LeadCapacity = *f.LeadCapacity
	}
	if f.MatchLimit != nil {
		e.MatchLimit = *f.MatchLimit
	}
	if e.Rates == nil {
		e.Rates = commission.DefaultRates()
	}
	for name, r := range f.Tiers {
		tier, _ := domain.ParseTier(name)
		e.Rates[tier] = r
	}
}
