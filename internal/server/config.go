package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ListenAddr string                `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig        `json:"database" yaml:"database"`
	Auth       AuthConfig            `json:"auth" yaml:"auth"`
	Security   SecurityConfig        `json:"security" yaml:"security"`
	Probe      ProbeDefaultsConfig   `json:"probe" yaml:"probe"`
	Observer   ObservabilityConfig   `json:"observability" yaml:"observability"`
	Limits     QuickProbeLimitConfig `json:"limits" yaml:"limits"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

// ProbeDefaultsConfig fills in session parameters the request leaves unset.
type ProbeDefaultsConfig struct {
	Endpoint            string `json:"endpoint" yaml:"endpoint"`
	Model               string `json:"model" yaml:"model"`
	TimeoutSec          int    `json:"timeout_sec" yaml:"timeout_sec"`
	MinChars            int    `json:"min_chars" yaml:"min_chars"`
	Tolerance           int    `json:"tolerance" yaml:"tolerance"`
	MaxParallelSessions int    `json:"max_parallel_sessions" yaml:"max_parallel_sessions"`
	QuickProbeMaxChars  int    `json:"quick_probe_max_chars" yaml:"quick_probe_max_chars"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

type QuickProbeLimitConfig struct {
	QuickProbeRPM int `json:"quick_probe_rpm" yaml:"quick_probe_rpm"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "sawl_session",
		},
		Probe: ProbeDefaultsConfig{
			Endpoint:            "http://127.0.0.1:11434",
			Model:               "mixtral:latest",
			TimeoutSec:          300,
			MinChars:            2000,
			Tolerance:           500,
			MaxParallelSessions: 1,
			QuickProbeMaxChars:  20000,
		},
		Observer: ObservabilityConfig{
			ServiceName: "sawl-probe-api",
			SampleRatio: 1,
		},
		Limits: QuickProbeLimitConfig{
			QuickProbeRPM: 2,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		if yamlErr := yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "sawl_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if strings.TrimSpace(cfg.Probe.Endpoint) == "" {
		cfg.Probe.Endpoint = "http://127.0.0.1:11434"
	}
	if strings.TrimSpace(cfg.Probe.Model) == "" {
		cfg.Probe.Model = "mixtral:latest"
	}
	if cfg.Probe.TimeoutSec <= 0 {
		cfg.Probe.TimeoutSec = 300
	}
	if cfg.Probe.MinChars <= 0 {
		cfg.Probe.MinChars = 2000
	}
	if cfg.Probe.Tolerance < 0 {
		cfg.Probe.Tolerance = 500
	}
	// Capacity trials stress the target; one session at a time by default.
	if cfg.Probe.MaxParallelSessions <= 0 {
		cfg.Probe.MaxParallelSessions = 1
	}
	if cfg.Probe.QuickProbeMaxChars <= 0 {
		cfg.Probe.QuickProbeMaxChars = 20000
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "sawl-probe-api"
	}
	if cfg.Limits.QuickProbeRPM <= 0 {
		cfg.Limits.QuickProbeRPM = 2
	}
}
