package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ShippingRulesFile is the YAML override of the shipping decision table. Amounts are cents,
// weights kilograms. Zero values keep the built-in defaults.
type ShippingRulesFile struct {
	FlatFee              int64          `yaml:"flatFee"`
	UnweightedFreeMargin int64          `yaml:"unweightedFreeMargin"`
	FreeAboveWeightKg    float64        `yaml:"freeAboveWeightKg"`
	LightMaxWeightKg     float64        `yaml:"lightMaxWeightKg"`
	LightFreeMargin      int64          `yaml:"lightFreeMargin"`
	HeavyMaxWeightKg     float64        `yaml:"heavyMaxWeightKg"`
	HeavyFreeMargin      int64          `yaml:"heavyFreeMargin"`
	Bands                []ShippingBand `yaml:"bands"`
}

// ShippingBand is one distance band of the rules file.
type ShippingBand struct {
	FromKm    float64 `yaml:"fromKm"`
	RatePerKm int64   `yaml:"ratePerKm"`
}

// LoadShippingRules reads and checks a shipping rules file.
func LoadShippingRules(path string) (*ShippingRulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read shipping rules %s: %w", path, err)
	}
	return ParseShippingRules(data)
}

// ParseShippingRules decodes a shipping rules document, rejecting unknown keys.
func ParseShippingRules(data []byte) (*ShippingRulesFile, error) {
	var rules ShippingRulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("config: parse shipping rules: %w", err)
	}

	if rules.FlatFee < 0 || rules.UnweightedFreeMargin < 0 || rules.LightFreeMargin < 0 || rules.HeavyFreeMargin < 0 {
		return nil, errors.New("config: shipping rules amounts must not be negative")
	}
	if rules.LightMaxWeightKg > 0 && rules.HeavyMaxWeightKg > 0 && rules.LightMaxWeightKg > rules.HeavyMaxWeightKg {
		return nil, errors.New("config: lightMaxWeightKg must not exceed heavyMaxWeightKg")
	}
	for i, band := range rules.Bands {
		if band.FromKm < 0 || band.RatePerKm < 0 {
			return nil, fmt.Errorf("config: shipping band %d must not be negative", i)
		}
	}
	return &rules, nil
}
