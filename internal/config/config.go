package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS  NATSConfig  `yaml:"nats"`
	Store StoreConfig `yaml:"store"`
	Web   WebConfig   `yaml:"web"`
	Sweep SweepConfig `yaml:"sweep"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SweepConfig struct {
	Interval       time.Duration `yaml:"interval"`
	OfflineAfter   time.Duration `yaml:"offline_after"`
	ReportSchedule string        `yaml:"report_schedule"`
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/hive.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Sweep: SweepConfig{
			Interval:       30 * time.Second,
			OfflineAfter:   10 * time.Minute,
			ReportSchedule: "0 * * * *",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("HIVE_CONFIG")
	if path == "" {
		path = "config/hive.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HIVE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("HIVE_NATS_DATA_DIR"); v != "" {
		cfg.NATS.DataDir = v
	}
	if v := os.Getenv("HIVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("HIVE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("HIVE_WEB_AUTH"); v != "" {
		cfg.Web.Auth = v
	}
}
