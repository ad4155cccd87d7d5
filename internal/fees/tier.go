package fees

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier scales the base fee by Multiplier percent.
type Tier struct {
	Name       string `yaml:"name"`
	Multiplier int64  `yaml:"multiplier"`
	Label      string `yaml:"label"`
	Expected   string `yaml:"expected"`
}

const (
	TierSlow    = "slow"
	TierAverage = "average"
	TierFast    = "fast"
)

func DefaultTiers() []Tier {
	return []Tier{
		{Name: TierSlow, Multiplier: 80, Label: "🐌 Slow", Expected: "~30s"},
		{Name: TierAverage, Multiplier: 100, Label: "⚡ Average", Expected: "~15s"},
		{Name: TierFast, Multiplier: 120, Label: "🚀 Fast", Expected: "~5s"},
	}
}

type tiersFile struct {
	Tiers []Tier `yaml:"tiers"`
}

// LoadTiers reads a tier table from a YAML file of the form
//
//	tiers:
//	  - name: slow
//	    multiplier: 80
func LoadTiers(path string) ([]Tier, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}

	var f tiersFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}
	if err := validateTiers(f.Tiers); err != nil {
		return nil, fmt.Errorf("tiers file %s: %w", path, err)
	}
	return f.Tiers, nil
}

func validateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("no tiers defined")
	}
	seen := make(map[string]struct{}, len(tiers))
	for i, t := range tiers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tier %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("tier %q defined twice", name)
		}
		if t.Multiplier <= 0 {
			return fmt.Errorf("tier %q: multiplier must be positive", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
