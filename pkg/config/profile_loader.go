package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML durations written as "5s" or "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// NetworkProfile is a per-chain tuning profile. The right cadence, gas
// ceiling and pacing depend on the target network's block time and gateway
// rate limits, so they ship as data rather than code.
type NetworkProfile struct {
	Name              string   `yaml:"name" json:"name"`
	ChainID           int64    `yaml:"chain_id" json:"chain_id"`
	GatewayURL        string   `yaml:"gateway_url,omitempty" json:"gateway_url,omitempty"`
	Cadence           Duration `yaml:"cadence" json:"cadence"`
	ExecPause         Duration `yaml:"exec_pause" json:"exec_pause"`
	MaxRetries        int      `yaml:"max_retries" json:"max_retries"`
	GasCeiling        uint64   `yaml:"gas_ceiling" json:"gas_ceiling"`
	ConfirmationDepth int      `yaml:"confirmation_depth" json:"confirmation_depth"`
	IndexLimit        int      `yaml:"index_limit,omitempty" json:"index_limit,omitempty"`
}

// Validate rejects profiles that would misconfigure the engine.
func (p *NetworkProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("config: profile has no name")
	}
	if p.Cadence <= 0 {
		return fmt.Errorf("config: profile %s: cadence must be positive", p.Name)
	}
	if p.GasCeiling == 0 {
		return fmt.Errorf("config: profile %s: gas_ceiling must be set", p.Name)
	}
	return nil
}

// LoadProfile loads a network profile YAML by network name. It searches the
// profiles directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*NetworkProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %q: %w", name, err)
	}

	var profile NetworkProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", name, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Apply overlays the profile onto a loaded Config. Only fields the profile
// sets are replaced.
func (p *NetworkProfile) Apply(cfg *Config) {
	if p.GatewayURL != "" {
		cfg.GatewayURL = p.GatewayURL
	}
	if p.Cadence > 0 {
		cfg.Cadence = p.Cadence.Std()
	}
	if p.ExecPause > 0 {
		cfg.ExecPause = p.ExecPause.Std()
	}
	if p.MaxRetries > 0 {
		cfg.MaxRetries = p.MaxRetries
	}
	if p.GasCeiling > 0 {
		cfg.GasCeiling = p.GasCeiling
	}
	if p.IndexLimit > 0 {
		cfg.IndexLimit = p.IndexLimit
	}
}
