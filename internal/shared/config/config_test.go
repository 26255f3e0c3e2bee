package config

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestParseIDs(t *testing.T) {
	tests := []struct {
		raw  string
		want []int64
	}{
		{"", nil},
		{"42", []int64{42}},
		{" 1, 2 ,3", []int64{1, 2, 3}},
		{"7,abc,,-4,9", []int64{7, 9}},
	}
	for _, tt := range tests {
		if got := parseIDs(tt.raw); !slices.Equal(got, tt.want) {
			t.Errorf("parseIDs(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN", strings.Repeat("k", 32))
	t.Setenv("GUILD_ID", "1234")
	t.Setenv("ADMIN_USER_IDS", "5,6")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("GALAXY_EPOCH", "2800-06-01T12:00:00Z")
	t.Setenv("TIME_SCALE_FACTOR", "2.5")

	cfg, err := load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Gateway.GuildID != 1234 || !slices.Equal(cfg.Gateway.Admins, []int64{5, 6}) {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if want := time.Date(2800, 6, 1, 12, 0, 0, 0, time.UTC); !cfg.Galaxy.Epoch.Equal(want) {
		t.Errorf("epoch = %v, want %v", cfg.Galaxy.Epoch, want)
	}
	if cfg.Galaxy.TimeScale != 2.5 {
		t.Errorf("scale = %v, want 2.5", cfg.Galaxy.TimeScale)
	}
}

func TestValidateRejects(t *testing.T) {
	good := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080"},
			Database: DatabaseConfig{Driver: "sqlite", Path: "x.db", LockTimeout: time.Second},
			Gateway:  GatewayConfig{Token: strings.Repeat("k", 32), GuildID: 1},
			Galaxy:   GalaxyConfig{TimeScale: 1},
		}
	}
	if err := good().validate(); err != nil {
		t.Fatalf("baseline config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short token", func(c *Config) { c.Gateway.Token = "short" }},
		{"no guild", func(c *Config) { c.Gateway.GuildID = 0 }},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"zero scale", func(c *Config) { c.Galaxy.TimeScale = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := good()
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("validate accepted a bad config")
			}
		})
	}
}

func TestBadEpochIsRejected(t *testing.T) {
	t.Setenv("GALAXY_EPOCH", "next tuesday")
	if _, err := loadGalaxyConfig(); err == nil {
		t.Fatal("bad epoch accepted")
	}
}
