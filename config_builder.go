package bugtrack

import "time"

// ConfigBuilder provides fluent API for building configurations
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:       1,
			PasswordReset: PasswordResetConfig{Expiry: DefaultResetExpiry.String()},
			Feedback:      FeedbackConfig{Email: DefaultFeedbackEmail},
			Database:      DatabaseConfig{Driver: "sqlite", DSN: "bugtrack.db"},
			Engine:        EngineConfig{AuditBuffer: 1024},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) ResetExpiry(d time.Duration) *ConfigBuilder {
	b.cfg.PasswordReset.Expiry = d.String()
	return b
}

func (b *ConfigBuilder) ResetBaseURL(u string) *ConfigBuilder {
	b.cfg.PasswordReset.BaseURL = u
	return b
}

func (b *ConfigBuilder) FeedbackEmail(addr string) *ConfigBuilder {
	b.cfg.Feedback.Email = addr
	return b
}

func (b *ConfigBuilder) Database(driver, dsn string) *ConfigBuilder {
	b.cfg.Database = DatabaseConfig{Driver: driver, DSN: dsn}
	return b
}

func (b *ConfigBuilder) Redis(addr string, db int, prefix string) *ConfigBuilder {
	b.cfg.Redis = RedisConfig{Addr: addr, DB: db, KeyPrefix: prefix}
	return b
}

// AddRule appends a line in the rules file syntax.
func (b *ConfigBuilder) AddRule(line string) *ConfigBuilder {
	b.cfg.Rules = append(b.cfg.Rules, line)
	return b
}

func (b *ConfigBuilder) AddMembership(userID, role string) *ConfigBuilder {
	b.cfg.Memberships = append(b.cfg.Memberships, RoleMembership{UserID: userID, Role: role})
	return b
}

func (b *ConfigBuilder) EngineSettings(fn func(*EngineConfig)) *ConfigBuilder {
	fn(&b.cfg.Engine)
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}
