package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Admin         string `yaml:"admin"`
	Treasury      string `yaml:"treasury"`
	FeeBps        uint64 `yaml:"fee_bps"`
	WindowSeconds int64  `yaml:"window_seconds"`

	// CraftPrices overrides the per-tier shard craft table, in whole
	// tokens. Empty keeps the built-in table.
	CraftPrices []int64 `yaml:"craft_prices"`

	// Issuance seeds fungible balances at genesis, decimal strings keyed
	// by principal.
	Issuance map[string]string `yaml:"issuance"`

	Listen Listen `yaml:"listen"`
	Oracle Oracle `yaml:"oracle"`
	Audit  Audit  `yaml:"audit"`
	Index  Index  `yaml:"index"`
}

type Listen struct {
	HTTP       string `yaml:"http"`
	AdminToken string `yaml:"admin_token"`
}

type Oracle struct {
	Principal      string `yaml:"principal"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

type Audit struct {
	Dir          string `yaml:"dir"`
	RotateSizeMB int    `yaml:"rotate_size_mb"`
}

type Index struct {
	Path string `yaml:"path"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	return t, nil
}

func (t *Tuning) validate() error {
	if t.Admin == "" {
		return fmt.Errorf("admin must be set")
	}
	if t.FeeBps > 5000 {
		return fmt.Errorf("fee_bps %d above 5000", t.FeeBps)
	}
	if n := len(t.CraftPrices); n != 0 && n != 15 {
		return fmt.Errorf("craft_prices must have 15 entries, got %d", n)
	}
	return nil
}

func (t *Tuning) applyDefaults() {
	if t.WindowSeconds <= 0 {
		t.WindowSeconds = 3600
	}
	if t.Oracle.PollIntervalMs <= 0 {
		t.Oracle.PollIntervalMs = 500
	}
	if t.Oracle.Principal == "" {
		t.Oracle.Principal = "oracle"
	}
	if t.Audit.RotateSizeMB <= 0 {
		t.Audit.RotateSizeMB = 64
	}
}
