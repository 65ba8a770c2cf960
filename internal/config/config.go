// Package config loads service configuration from a YAML file with
// sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loglineos/ledger/internal/authz"
	"github.com/loglineos/ledger/internal/wallet"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("config: duration must be a string like \"60s\": %w", err)
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen"`

	// DBPath is the SQLite ledger file. ":memory:" works for throwaway
	// runs.
	DBPath string `yaml:"db_path"`

	// SecretDir roots the file-backed secret store.
	SecretDir string `yaml:"secret_dir"`

	// PepperRef names the token pepper inside the secret store.
	PepperRef string `yaml:"pepper_ref"`

	// SeedDir optionally points at a CUE seed directory applied on
	// startup.
	SeedDir string `yaml:"seed_dir"`

	// TokenTTL is the default lifetime of issued bearer tokens.
	TokenTTL Duration `yaml:"token_ttl"`

	// CacheTTL bounds the authorization decision cache, and with it the
	// revocation propagation delay.
	CacheTTL Duration `yaml:"cache_ttl"`

	// NonceTTL bounds the anti-replay window for signed requests.
	NonceTTL Duration `yaml:"nonce_ttl"`

	// Providers maps provider names to their base URLs for outbound
	// invocation.
	Providers map[string]string `yaml:"providers"`

	// LogLevel is a zerolog level name: trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:    "127.0.0.1:8077",
		DBPath:    "ledger.db",
		SecretDir: "secrets",
		PepperRef: "auth/pepper",
		TokenTTL:  Duration(authz.DefaultTokenTTL),
		CacheTTL:  Duration(authz.DefaultCacheTTL),
		NonceTTL:  Duration(wallet.DefaultNonceTTL),
		LogLevel:  "info",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path must not be empty")
	}
	if c.PepperRef == "" {
		return fmt.Errorf("config: pepper_ref must not be empty")
	}
	if c.TokenTTL < 0 || c.CacheTTL < 0 || c.NonceTTL < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	return nil
}
