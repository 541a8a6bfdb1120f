// Package config loads the matching engine's YAML configuration file,
// with environment variable overrides and defaults applied the way
// cmd/trading-bots does it in the wider pack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level matching engine configuration (§6 "Operator
// configuration").
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		Workers int    `yaml:"workers"`
	} `yaml:"server"`

	Journal struct {
		URI string `yaml:"uri"`
	} `yaml:"journal"`

	Snapshot struct {
		Dir            string        `yaml:"dir"`
		IntervalSec    int           `yaml:"interval_sec"`
		KeepGenerations int          `yaml:"keep_generations"`
	} `yaml:"snapshot"`

	Matching struct {
		ModifyDiscipline string `yaml:"modify_discipline"` // "lenient" or "strict"
	} `yaml:"matching"`

	LogLevel string `yaml:"log_level"`
}

// SnapshotInterval returns Snapshot.IntervalSec as a time.Duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Snapshot.IntervalSec) * time.Second
}

// Load reads path (if set) and layers environment overrides and
// defaults on top, mirroring the load-then-override-then-default shape
// used elsewhere in the pack.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		path = os.Getenv("MATCHBOOK_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MATCHBOOK_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MATCHBOOK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("MATCHBOOK_JOURNAL_URI"); v != "" {
		cfg.Journal.URI = v
	}
	if v := os.Getenv("MATCHBOOK_SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.Dir = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7070
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = 10
	}
	if cfg.Journal.URI == "" {
		cfg.Journal.URI = "file://matchbook.journal"
	}
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = "snapshots"
	}
	if cfg.Snapshot.IntervalSec == 0 {
		cfg.Snapshot.IntervalSec = 60
	}
	if cfg.Snapshot.KeepGenerations == 0 {
		cfg.Snapshot.KeepGenerations = 5
	}
	if cfg.Matching.ModifyDiscipline == "" {
		cfg.Matching.ModifyDiscipline = "lenient"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
