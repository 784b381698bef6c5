// Package config loads and watches the bot's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Telegram    Telegram    `yaml:"telegram"`
	Storage     Storage     `yaml:"storage"`
	Log         Log         `yaml:"log"`
	Health      Health      `yaml:"health"`
	Clock       Clock       `yaml:"clock"`
	Pool        Pool        `yaml:"pool"`
	Broadcast   Broadcast   `yaml:"broadcast"`
	Maintenance Maintenance `yaml:"maintenance"`
}

type Telegram struct {
	Token       string   `yaml:"token"`
	OwnerID     int64    `yaml:"owner_id"`
	PollTimeout Duration `yaml:"poll_timeout"`
	// UserAPIDriver names the registered MTProto transport (see userapi.Register).
	UserAPIDriver string `yaml:"userapi_driver"`
}

type Storage struct {
	Driver      string   `yaml:"driver"`
	Path        string   `yaml:"path"`
	BusyTimeout Duration `yaml:"busy_timeout"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Health struct {
	Addr string `yaml:"addr"` // empty disables the HTTP server
}

type Clock struct {
	Timezone string   `yaml:"timezone"`
	Interval Duration `yaml:"interval"`
}

type Pool struct {
	Capacity int `yaml:"capacity"` // accounts per API app
}

type Broadcast struct {
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

type Maintenance struct {
	ReportSpec string `yaml:"report_spec"` // cron spec for the daily owner report; empty disables
}

func Default() Config {
	return Config{
		Telegram: Telegram{
			PollTimeout:   Duration(10 * time.Second),
			UserAPIDriver: "mtproto",
		},
		Storage: Storage{
			Driver:      "sqlite",
			Path:        "./data/selfbot.db",
			BusyTimeout: Duration(5 * time.Second),
		},
		Log: Log{Level: "info"},
		Clock: Clock{
			Timezone: "Asia/Tehran",
			Interval: Duration(60 * time.Second),
		},
		Pool:      Pool{Capacity: 30},
		Broadcast: Broadcast{RatePerSec: 20, Burst: 5},
		Maintenance: Maintenance{
			ReportSpec: "0 9 * * *",
		},
	}
}

// Load reads path into Default(), then validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.OwnerID == 0 {
		return errors.New("telegram.owner_id is required")
	}
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("pool.capacity must be positive, got %d", c.Pool.Capacity)
	}
	if time.Duration(c.Clock.Interval) < time.Second {
		return fmt.Errorf("clock.interval too small: %s", time.Duration(c.Clock.Interval))
	}
	if c.Broadcast.RatePerSec <= 0 {
		return fmt.Errorf("broadcast.rate_per_sec must be positive, got %v", c.Broadcast.RatePerSec)
	}
	return nil
}
