package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// StakesCatalog is the product's table of allowed stakes and fixed grants.
// Loaded from YAML so operations can retune tiers without a rebuild.
type StakesCatalog struct {
	CurrencyStakes []int64 `yaml:"currency_stakes"`
	ClubStakes     []int64 `yaml:"club_stakes"`
	DailyBonus     int64   `yaml:"daily_bonus"`
	// AvgPairingSeconds feeds the queue's estimated-wait hint per earlier entry.
	AvgPairingSeconds int `yaml:"avg_pairing_seconds"`
}

func defaultStakes() *StakesCatalog {
	return &StakesCatalog{
		CurrencyStakes:    []int64{100, 250, 500, 1000, 2500},
		ClubStakes:        []int64{50, 100, 250},
		DailyBonus:        500,
		AvgPairingSeconds: 15,
	}
}

// LoadStakes reads the catalog from path, falling back to built-in defaults
// when path is empty.
func LoadStakes(path string) (*StakesCatalog, error) {
	if path == "" {
		return defaultStakes(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stakes catalog: %w", err)
	}
	cat := defaultStakes()
	if err := yaml.Unmarshal(raw, cat); err != nil {
		return nil, fmt.Errorf("parse stakes catalog: %w", err)
	}
	if len(cat.CurrencyStakes) == 0 || len(cat.ClubStakes) == 0 {
		return nil, fmt.Errorf("stakes catalog must list at least one tier per mode")
	}
	if cat.DailyBonus <= 0 {
		return nil, fmt.Errorf("stakes catalog daily_bonus must be positive")
	}
	return cat, nil
}

// Allowed reports whether stake is a listed tier for the given mode
// ("currency" or "club").
func (c *StakesCatalog) Allowed(mode string, stake int64) bool {
	switch mode {
	case "club":
		return slices.Contains(c.ClubStakes, stake)
	default:
		return slices.Contains(c.CurrencyStakes, stake)
	}
}
