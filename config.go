package bugtrack

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tracker configuration
type Config struct {
	Version       uint16              `json:"version" yaml:"version"`
	Engine        EngineConfig        `json:"engine" yaml:"engine"`
	PasswordReset PasswordResetConfig `json:"password_reset" yaml:"password_reset"`
	Feedback      FeedbackConfig      `json:"feedback" yaml:"feedback"`
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	Redis         RedisConfig         `json:"redis" yaml:"redis"`
	// Rules are extra rule lines in the rules file syntax, appended after the defaults.
	Rules       []string         `json:"rules,omitempty" yaml:"rules,omitempty"`
	Memberships []RoleMembership `json:"memberships,omitempty" yaml:"memberships,omitempty"`
}

type EngineConfig struct {
	DecisionCacheTTL    int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	AuditBuffer         int   `json:"audit_buffer" yaml:"audit_buffer"`
	Audit               bool  `json:"audit" yaml:"audit"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

type PasswordResetConfig struct {
	Expiry  string `json:"expiry" yaml:"expiry"` // duration, e.g. "2h"
	BaseURL string `json:"base_url" yaml:"base_url"`
}

type FeedbackConfig struct {
	Email string `json:"email" yaml:"email"`
}

type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

const (
	DefaultResetExpiry   = 2 * time.Hour
	DefaultFeedbackEmail = "feedback@example.com"
)

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the decoder from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".json") {
		return l.LoadJSON(data)
	}
	return l.LoadYAML(data)
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ResetExpiry parses password_reset.expiry, defaulting to two hours.
func (c *Config) ResetExpiry() (time.Duration, error) {
	if c.PasswordReset.Expiry == "" {
		return DefaultResetExpiry, nil
	}
	d, err := time.ParseDuration(c.PasswordReset.Expiry)
	if err != nil {
		return 0, fmt.Errorf("password_reset.expiry: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("password_reset.expiry must be positive, got %s", d)
	}
	return d, nil
}

// FeedbackAddress is FEEDBACK_EMAIL if set, else feedback.email, else the default.
func (c *Config) FeedbackAddress() string {
	if env := os.Getenv("FEEDBACK_EMAIL"); env != "" {
		return env
	}
	if c != nil && c.Feedback.Email != "" {
		return c.Feedback.Email
	}
	return DefaultFeedbackEmail
}

// RuleTable returns the default rules followed by the configured extra rules.
func (c *Config) RuleTable() (*RuleTable, error) {
	table := DefaultRules()
	if len(c.Rules) == 0 {
		return table, nil
	}
	extra, err := NewDSLParser().Parse([]byte(strings.Join(c.Rules, "\n")))
	if err != nil {
		return nil, fmt.Errorf("config rules: %w", err)
	}
	table.Merge(extra.Rules)
	return table, nil
}

// EngineOptions translates the engine section into options.
func (c *Config) EngineOptions() []EngineOption {
	var opts []EngineOption
	if c.Engine.RistrettoNumCounter > 0 {
		opts = append(opts, WithDecisionCache(CacheConfig{
			NumCounters: c.Engine.RistrettoNumCounter,
			MaxCost:     c.Engine.RistrettoMaxCost,
			BufferItems: c.Engine.RistrettoBuffer,
			TTL:         time.Duration(c.Engine.DecisionCacheTTL) * time.Millisecond,
		}))
	}
	return opts
}

// NewEngineFromConfig builds an engine from the config. The audit store is
// installed only when engine.audit is set.
func NewEngineFromConfig(cfg *Config, audit AuditStore, opts ...EngineOption) (*Engine, error) {
	table, err := cfg.RuleTable()
	if err != nil {
		return nil, err
	}
	all := cfg.EngineOptions()
	if cfg.Engine.Audit && audit != nil {
		all = append(all, WithAuditStore(audit, cfg.Engine.AuditBuffer))
	}
	return NewEngine(table, append(all, opts...)...)
}

// ApplyMemberships writes the configured role memberships to the store.
func (c *Config) ApplyMemberships(ctx context.Context, store RoleMembershipStore) error {
	for _, m := range c.Memberships {
		if _, err := ParseRole(m.Role); err != nil {
			return fmt.Errorf("membership for %s: %w", m.UserID, err)
		}
		if err := store.AssignRole(ctx, m.UserID, m.Role); err != nil {
			return fmt.Errorf("assign role %s to %s: %w", m.Role, m.UserID, err)
		}
	}
	return nil
}
