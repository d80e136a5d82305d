package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the gobayes configuration
type Config struct {
	// Token store settings
	Store StoreConfig `yaml:"store"`

	// Tokenizer settings
	Tokenizer TokenizerConfig `yaml:"tokenizer"`

	// Classifier settings
	Classifier ClassifierConfig `yaml:"classifier"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`

	// Milter server settings
	Milter MilterConfig `yaml:"milter"`
}

// StoreConfig selects and configures the token store backend
type StoreConfig struct {
	// Backend selection: "sqlite", "redis" or "memory"
	Backend string `yaml:"backend"`

	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`

	// Tokens whose total count falls below this are removed by prune
	PruneThreshold int64 `yaml:"prune_threshold"`
}

// SQLiteConfig contains file-backed store settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig contains Redis-backed store settings
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`

	// Training lock expiry. Guards against orphaned locks when a
	// training process dies mid-batch. Duration string like "10m".
	LockTTL string `yaml:"lock_ttl"`
}

// TokenizerConfig contains token extraction settings
type TokenizerConfig struct {
	MinWordLength int `yaml:"min_word_length"`
	MaxWordLength int `yaml:"max_word_length"`
	MaxTokens     int `yaml:"max_tokens"`
}

// ClassifierConfig contains the combining-rule tunables
type ClassifierConfig struct {
	// Prior probability assigned to words never seen in training
	UnknownWordProb float64 `yaml:"unknown_word_prob"`

	// Smoothing strength pulling rare words toward the prior
	UnknownWordStrength float64 `yaml:"unknown_word_strength"`

	// Words seen fewer times than this carry no evidence
	MinTokenCount int64 `yaml:"min_token_count"`

	// Words closer to neutral than this are discarded
	NeutralWindow float64 `yaml:"neutral_window"`

	// At most this many extreme words enter the combining rule
	MaxDiscriminators int `yaml:"max_discriminators"`

	// Verdict thresholds: p <= ham_cutoff is ham, p >= spam_cutoff is spam
	HamCutoff  float64 `yaml:"ham_cutoff"`
	SpamCutoff float64 `yaml:"spam_cutoff"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// MilterConfig contains milter front end settings
type MilterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Network string `yaml:"network"` // "tcp" or "unix"
	Address string `yaml:"address"` // "127.0.0.1:7357" or "/tmp/gobayes.sock"

	AddHeaders   bool   `yaml:"add_headers"`
	HeaderPrefix string `yaml:"header_prefix"`

	// Reject messages classified as spam at SMTP time instead of
	// only tagging them
	RejectSpam    bool   `yaml:"reject_spam"`
	RejectMessage string `yaml:"reject_message"`

	// Hold spam in the MTA quarantine instead of delivering it.
	// Ignored when reject_spam is set.
	QuarantineSpam bool `yaml:"quarantine_spam"`

	ReadTimeoutMs  int `yaml:"read_timeout_ms"`
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "sqlite",
			SQLite: SQLiteConfig{
				Path: "gobayes.db",
			},
			Redis: RedisConfig{
				URL:       "redis://localhost:6379",
				KeyPrefix: "gobayes",
				LockTTL:   "10m",
			},
			PruneThreshold: 2,
		},
		Tokenizer: TokenizerConfig{
			MinWordLength: 3,
			MaxWordLength: 20,
			MaxTokens:     1000,
		},
		Classifier: ClassifierConfig{
			UnknownWordProb:     0.5,
			UnknownWordStrength: 1.0,
			MinTokenCount:       5,
			NeutralWindow:       0.1,
			MaxDiscriminators:   150,
			HamCutoff:           0.2,
			SpamCutoff:          0.9,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Milter: MilterConfig{
			Enabled:        false,
			Network:        "tcp",
			Address:        "127.0.0.1:7357",
			AddHeaders:     true,
			HeaderPrefix:   "X-GoBayes-",
			RejectSpam:     false,
			ReadTimeoutMs:  10000,
			WriteTimeoutMs: 10000,
		},
	}
}

// LoadConfig loads configuration from a YAML file. An empty path falls
// back to well-known locations and finally to the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, candidate := range []string{"gobayes.yaml", filepath.Join(os.Getenv("HOME"), ".gobayes.yaml")} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Classifier.HamCutoff >= c.Classifier.SpamCutoff {
		return fmt.Errorf("ham_cutoff (%v) must be below spam_cutoff (%v)",
			c.Classifier.HamCutoff, c.Classifier.SpamCutoff)
	}

	if c.Classifier.UnknownWordProb < 0 || c.Classifier.UnknownWordProb > 1 {
		return fmt.Errorf("unknown_word_prob must be within [0,1]")
	}

	if c.Tokenizer.MinWordLength > c.Tokenizer.MaxWordLength {
		return fmt.Errorf("min_word_length must not exceed max_word_length")
	}

	return nil
}

// SaveConfig writes configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}

	return nil
}
