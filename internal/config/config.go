package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type BootstrapAdmin struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type Config struct {
	HTTPAddr       string         `yaml:"http_addr"`
	RPCSocket      string         `yaml:"rpc_socket"`
	Database       Database       `yaml:"database"`
	LogMode        string         `yaml:"log_mode"`
	BootstrapAdmin BootstrapAdmin `yaml:"bootstrap_admin"`
	MetricsEnabled bool           `yaml:"metrics_enabled"`
}

func Default() Config {
	return Config{
		HTTPAddr:  ":8080",
		RPCSocket: "/tmp/curator.sock",
		Database: Database{
			Driver: "sqlite",
			DSN:    "curator.db",
		},
		LogMode: "dev",
		BootstrapAdmin: BootstrapAdmin{
			Email:    "admin@curator.local",
			Password: "admin",
		},
		MetricsEnabled: true,
	}
}

// Load reads path (when non-empty) over the defaults and then applies
// CURATOR_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http_addr is required")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "CURATOR_HTTP_ADDR")
	setString(&cfg.RPCSocket, "CURATOR_RPC_SOCKET")
	setString(&cfg.Database.Driver, "CURATOR_DB_DRIVER")
	setString(&cfg.Database.DSN, "CURATOR_DB_DSN")
	setString(&cfg.LogMode, "CURATOR_LOG_MODE")
	setString(&cfg.BootstrapAdmin.Email, "CURATOR_BOOTSTRAP_ADMIN_EMAIL")
	setString(&cfg.BootstrapAdmin.Password, "CURATOR_BOOTSTRAP_ADMIN_PASSWORD")
	if raw, ok := os.LookupEnv("CURATOR_METRICS_ENABLED"); ok {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("CURATOR_METRICS_ENABLED: %w", err)
		}
		cfg.MetricsEnabled = v
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}
