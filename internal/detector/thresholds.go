package detector

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Direction selects which side of the limit counts as a breach.
type Direction string

const (
	// GreaterThan breaches when the observed value exceeds the limit.
	GreaterThan Direction = "gt"
	// LessThan breaches when the observed value falls below the limit.
	LessThan Direction = "lt"
)

// ThresholdRule maps a metric name to its breach limit. The rule set is
// passed into the detector explicitly so tests can run with custom tables.
type ThresholdRule struct {
	Metric    string    `yaml:"metric"`
	Limit     float64   `yaml:"limit"`
	Direction Direction `yaml:"direction"`
}

// Breached applies the rule's comparison to an observed value.
func (r ThresholdRule) Breached(value float64) bool {
	if r.Direction == LessThan {
		return value < r.Limit
	}
	return value > r.Limit
}

func (r ThresholdRule) symbol() string {
	if r.Direction == LessThan {
		return "<"
	}
	return ">"
}

// DefaultThresholds returns the built-in threshold table. All comparisons are
// greater-than; the rule order fixes the order of summary output.
func DefaultThresholds() []ThresholdRule {
	return []ThresholdRule{
		{Metric: "cpu_usage", Limit: 80},
		{Metric: "memory_usage", Limit: 85},
		{Metric: "latency_ms", Limit: 500},
		{Metric: "disk_usage", Limit: 90},
		{Metric: "io_wait", Limit: 20},
		{Metric: "error_rate", Limit: 0.05},
		{Metric: "temperature_celsius", Limit: 75},
		{Metric: "power_consumption_watts", Limit: 400},
	}
}

type thresholdFile struct {
	Thresholds []ThresholdRule `yaml:"thresholds"`
}

// LoadThresholds reads a threshold table from a YAML file. A missing file or
// empty path falls back to the built-in defaults.
func LoadThresholds(path string) ([]ThresholdRule, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultThresholds(), nil
		}
		return nil, fmt.Errorf("read thresholds: %w", err)
	}
	var cfg thresholdFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	if len(cfg.Thresholds) == 0 {
		return DefaultThresholds(), nil
	}
	for i, rule := range cfg.Thresholds {
		if rule.Metric == "" {
			return nil, fmt.Errorf("threshold rule %d has no metric name", i)
		}
		if rule.Direction != "" && rule.Direction != GreaterThan && rule.Direction != LessThan {
			return nil, fmt.Errorf("threshold rule %s has unknown direction %q", rule.Metric, rule.Direction)
		}
	}
	return cfg.Thresholds, nil
}
