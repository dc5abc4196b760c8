// Package config loads the engine's environment inputs (spec.md §6:
// PORT, TMDB_API_KEY, DB_PATH) plus an optional YAML overlay for operator
// lists (proxy pool endpoints, archive mirror hosts) that are awkward to
// express as a single env var. This generalizes the teacher's settings.go
// env/path conventions (TrailarrRoot, ConfigPath, CookiesFile) into a
// single typed Config value instead of package-level mutable vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Port        string
	TMDBAPIKey  string
	DBPath      string
	LogLevel    string
	LogPretty   bool

	// Overlay, optional (config.yml next to DBPath's directory unless
	// TRAILRES_CONFIG_PATH overrides it).
	ProxyPool     []ProxyEndpoint `yaml:"proxy_pool"`
	ArchiveMirror string          `yaml:"archive_mirror"`
	ITunesHost    string          `yaml:"itunes_host"`

	GateMaxInFlight int
	GateDeadline    time.Duration
}

// ProxyEndpoint is one WireGuard-backed forward HTTP proxy used to egress
// yt-dlp traffic (spec.md §4.7).
type ProxyEndpoint struct {
	Name      string `yaml:"name"`
	ProxyURL  string `yaml:"proxy_url"`
	StatusURL string `yaml:"status_url"`
}

const (
	defaultPort          = "7000"
	defaultDBPath         = "/var/lib/trailres/trailres.db"
	defaultArchiveMirror  = "https://archive.org"
	defaultITunesHost     = "https://itunes.apple.com"
	defaultGateMaxInFlight = 5
	defaultGateDeadline    = 15 * time.Second
)

// Load reads environment variables and, if present, a YAML overlay file.
func Load() (Config, error) {
	cfg := Config{
		Port:            getenv("PORT", defaultPort),
		TMDBAPIKey:      os.Getenv("TMDB_API_KEY"),
		DBPath:          getenv("DB_PATH", defaultDBPath),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogPretty:       os.Getenv("LOG_PRETTY") == "1",
		ArchiveMirror:   defaultArchiveMirror,
		ITunesHost:      defaultITunesHost,
		GateMaxInFlight: defaultGateMaxInFlight,
		GateDeadline:    defaultGateDeadline,
	}

	if v := os.Getenv("GATE_MAX_INFLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GateMaxInFlight = n
		}
	}

	overlayPath := getenv("TRAILRES_CONFIG_PATH", filepath.Join(filepath.Dir(cfg.DBPath), "config.yml"))
	if overlayPath != "" {
		data, err := os.ReadFile(overlayPath)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return cfg, fmt.Errorf("config: read overlay %s: %w", overlayPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse overlay %s: %w", overlayPath, err)
		}
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
