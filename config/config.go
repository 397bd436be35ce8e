package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"tutorpay/core/identity"
)

type Config struct {
	Service                 string `toml:"Service"`
	Env                     string `toml:"Env"`
	DataDir                 string `toml:"DataDir"`
	AuditDBPath             string `toml:"AuditDBPath"`
	ConfirmationWindowHours int64  `toml:"ConfirmationWindowHours"`
	EmailDomain             string `toml:"EmailDomain"`
	LogFile                 string `toml:"LogFile"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded values for internal consistency.
func (c *Config) Validate() error {
	if c.ConfirmationWindowHours <= 0 {
		return fmt.Errorf("config: ConfirmationWindowHours must be positive, got %d", c.ConfirmationWindowHours)
	}
	if !strings.HasPrefix(c.EmailDomain, "@") {
		return fmt.Errorf("config: EmailDomain must start with '@', got %q", c.EmailDomain)
	}
	return nil
}

// ConfirmationWindowSeconds converts the configured confirmation window into
// the seconds the escrow engine expects.
func (c *Config) ConfirmationWindowSeconds() int64 {
	return c.ConfirmationWindowHours * 60 * 60
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service) == "" {
		cfg.Service = "tutorpay"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "local"
	}
	if cfg.ConfirmationWindowHours == 0 {
		cfg.ConfirmationWindowHours = 24
	}
	if strings.TrimSpace(cfg.EmailDomain) == "" {
		cfg.EmailDomain = identity.DefaultEmailDomain
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Service:                 "tutorpay",
		Env:                     "local",
		DataDir:                 "./tutorpay-data",
		AuditDBPath:             "./tutorpay-data/audit.db",
		ConfirmationWindowHours: 24,
		EmailDomain:             identity.DefaultEmailDomain,
		LogFile:                 "",
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
