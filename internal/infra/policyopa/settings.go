package policyopa

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings are the tunable thresholds the Rego module reads from
// input.settings. They come from the YAML policy file.
type Settings struct {
	AmountThreshold     float64            `yaml:"amount_threshold" json:"amount_threshold"`
	TypeThresholds      map[string]float64 `yaml:"type_thresholds" json:"type_thresholds"`
	AlwaysEscalateTypes []string           `yaml:"always_escalate_types" json:"always_escalate_types"`
}

func DefaultSettings(amountThreshold float64) Settings {
	return Settings{
		AmountThreshold:     amountThreshold,
		TypeThresholds:      map[string]float64{},
		AlwaysEscalateTypes: []string{},
	}
}

// LoadSettings reads path over the defaults. An empty path means defaults.
// A missing or invalid file is an error: the policy must not silently relax.
func LoadSettings(path string, defaults Settings) (Settings, error) {
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read policy file: %w", err)
	}
	settings := defaults
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s Settings) Validate() error {
	if s.AmountThreshold <= 0 {
		return errors.New("amount_threshold must be positive")
	}
	for typ, threshold := range s.TypeThresholds {
		if threshold <= 0 {
			return fmt.Errorf("type_thresholds[%s] must be positive", typ)
		}
	}
	return nil
}

func (s Settings) input() map[string]any {
	typeThresholds := make(map[string]any, len(s.TypeThresholds))
	for k, v := range s.TypeThresholds {
		typeThresholds[k] = v
	}
	always := make([]any, 0, len(s.AlwaysEscalateTypes))
	for _, t := range s.AlwaysEscalateTypes {
		always = append(always, t)
	}
	return map[string]any{
		"amount_threshold":      s.AmountThreshold,
		"type_thresholds":       typeThresholds,
		"always_escalate_types": always,
	}
}
