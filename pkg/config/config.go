// Package config holds the engine configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"sigs.k8s.io/yaml"
)

const (
	// DefaultMaxRounds bounds iteration scopes that do not set their own limit.
	DefaultMaxRounds uint64 = 1 << 20
	// DefaultMailboxHint is the initial capacity of an exchange mailbox.
	DefaultMailboxHint = 256
)

// Config is the engine configuration.
type Config struct {
	// Workers is the number of parallel workers. Zero means one worker per CPU.
	Workers int `json:"workers,omitempty"`
	// Limits bounds resource usage.
	Limits Limits `json:"limits,omitempty"`
	// Exchange tunes the worker fabric.
	Exchange Exchange `json:"exchange,omitempty"`
	// Logging sets the default log verbosity.
	Logging Logging `json:"logging,omitempty"`
}

// Limits bounds the resources of a computation.
type Limits struct {
	// MaxIndexEntries is the largest number of live (key, value) entries a single operator index
	// may hold on one worker. Zero means unbounded.
	MaxIndexEntries int `json:"maxIndexEntries,omitempty"`
	// MaxRounds is the default round bound of iteration scopes. Zero means DefaultMaxRounds.
	MaxRounds uint64 `json:"maxRounds,omitempty"`
}

// Exchange tunes the exchange fabric.
type Exchange struct {
	// MailboxHint is the initial capacity of worker mailboxes.
	MailboxHint int `json:"mailboxHint,omitempty"`
}

// Logging sets the default verbosity of the logger. Command line flags take precedence.
type Logging struct {
	// Level is the logr verbosity: 0 logs milestones, higher values trace the dataflow.
	Level int `json:"level,omitempty"`
}

// New returns the default configuration: a single worker and no index bound.
func New() Config {
	return Config{
		Workers: 1,
		Limits: Limits{
			MaxRounds: DefaultMaxRounds,
		},
		Exchange: Exchange{
			MailboxHint: DefaultMailboxHint,
		},
	}
}

// Parse reads a YAML (or JSON) configuration on top of the defaults.
func Parse(data []byte) (Config, error) {
	c := New()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	c.complete()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	return Parse(data)
}

// Complete fills zero fields with defaults and returns the completed config.
func (c Config) Complete() Config {
	c.complete()
	return c
}

func (c *Config) complete() {
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Limits.MaxRounds == 0 {
		c.Limits.MaxRounds = DefaultMaxRounds
	}
	if c.Exchange.MailboxHint == 0 {
		c.Exchange.MailboxHint = DefaultMailboxHint
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be non-negative, got %d", c.Workers))
	}
	if c.Limits.MaxIndexEntries < 0 {
		errs = append(errs, fmt.Errorf("limits.maxIndexEntries must be non-negative, got %d",
			c.Limits.MaxIndexEntries))
	}
	if c.Exchange.MailboxHint < 0 {
		errs = append(errs, fmt.Errorf("exchange.mailboxHint must be non-negative, got %d",
			c.Exchange.MailboxHint))
	}
	if c.Logging.Level < 0 {
		errs = append(errs, fmt.Errorf("logging.level must be non-negative, got %d", c.Logging.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// String returns the config as YAML.
func (c Config) String() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%#v", c)
	}
	return string(b)
}
