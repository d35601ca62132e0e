// Package config loads runner settings from the environment.
//
// Every setting has a CHANGELING_* variable; command-line flags override
// the loaded values.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/changeling/internal/checks"
)

// Config holds runner settings.
type Config struct {
	Changelog string `env:"CHANGELING_CHANGELOG"`
	Ledger    string `env:"CHANGELING_LEDGER" envDefault:"changeling.db"`
	// Target is the document store file. Empty means the ledger file.
	Target  string `env:"CHANGELING_TARGET"`
	Format  string `env:"CHANGELING_FORMAT" envDefault:"text"`
	Verbose bool   `env:"CHANGELING_VERBOSE"`

	LockTimeout time.Duration `env:"CHANGELING_LOCK_TIMEOUT" envDefault:"0s"`
	LockTTL     time.Duration `env:"CHANGELING_LOCK_TTL" envDefault:"5m"`
	LockPoll    time.Duration `env:"CHANGELING_LOCK_POLL" envDefault:"1s"`

	AllowedContexts []string `env:"CHANGELING_ALLOWED_CONTEXTS" envSeparator:","`
	LabelPattern    string   `env:"CHANGELING_LABEL_PATTERN"`
	DisabledChecks  []string `env:"CHANGELING_DISABLED_CHECKS" envSeparator:","`
	// DomainKeys are domain:key[:bsonType[:maxLength]] rules,
	// e.g. product:productID:string:15.
	DomainKeys []string `env:"CHANGELING_DOMAIN_KEYS" envSeparator:","`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// TargetPath resolves the document store file.
func (c Config) TargetPath() string {
	if c.Target != "" {
		return c.Target
	}
	return c.Ledger
}

// LabelRegexp compiles LabelPattern; nil when unset.
func (c Config) LabelRegexp() (*regexp.Regexp, error) {
	if c.LabelPattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(c.LabelPattern)
	if err != nil {
		return nil, fmt.Errorf("label pattern: %w", err)
	}
	return re, nil
}

// DomainKeyRules parses DomainKeys.
func (c Config) DomainKeyRules() ([]checks.DomainKey, error) {
	return checks.ParseDomainKeys(c.DomainKeys)
}

// Validate checks settings that the environment parser cannot.
func (c Config) Validate() error {
	var errs []error
	if c.Format != "text" && c.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid format %q: must be text or json", c.Format))
	}
	if c.Ledger == "" {
		errs = append(errs, errors.New("ledger path is required"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("lock ttl must be positive, got %s", c.LockTTL))
	}
	if c.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("lock timeout must not be negative, got %s", c.LockTimeout))
	}
	if c.LockPoll <= 0 {
		errs = append(errs, fmt.Errorf("lock poll interval must be positive, got %s", c.LockPoll))
	}
	if _, err := c.LabelRegexp(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DomainKeyRules(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
