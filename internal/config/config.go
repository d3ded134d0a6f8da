// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/edgeroute/internal/router"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete edgeroute configuration.
type Config struct {
	Server     ServerConfig           `toml:"server" json:"server"`
	Routing    RoutingConfig          `toml:"routing" json:"routing"`
	Telemetry  TelemetryConfig        `toml:"telemetry" json:"telemetry"`
	Session    SessionConfig          `toml:"session" json:"session"`
	Storage    StorageConfig          `toml:"storage" json:"storage"`
	Logging    LoggingConfig          `toml:"logging" json:"logging"`
	Generation GenerationConfig       `toml:"generation" json:"generation"`
	Models     map[string]ModelConfig `toml:"models" json:"models"`
	Targets    PerformanceTargets     `toml:"targets" json:"performance_targets"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`

	// RateLimitRPS is the steady per-client request rate (0 = unlimited).
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// RateLimitBurst is the per-client burst size.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`

	// TrustedProxies may set X-Forwarded-For / X-Real-IP. Empty means
	// loopback and private ranges.
	TrustedProxies []string `toml:"trusted_proxies" json:"trusted_proxies,omitempty"`

	// CORSOrigins may call the API from a browser. "*" allows any origin.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins,omitempty"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RoutingConfig holds process-wide routing overrides.
type RoutingConfig struct {
	// ForceVenue applies to requests that carry no forced venue of their own.
	ForceVenue string `toml:"force_venue" json:"force_venue,omitempty"`

	// OfflineMode keeps everything local and blocks non-loopback traffic.
	OfflineMode bool `toml:"offline_mode" json:"offline_mode"`
}

// TelemetryConfig controls the server-side probes.
type TelemetryConfig struct {
	ProbeTimeoutMS int      `toml:"probe_timeout_ms" json:"probe_timeout_ms"`
	CacheTTLMS     int      `toml:"cache_ttl_ms" json:"cache_ttl_ms"`
	PingHosts      []string `toml:"ping_hosts" json:"ping_hosts"`
}

// SessionConfig selects the conversation store.
type SessionConfig struct {
	// Backend is "memory", "file" or "redis".
	Backend       string `toml:"backend" json:"backend"`
	Dir           string `toml:"dir" json:"dir,omitempty"`
	RedisAddr     string `toml:"redis_addr" json:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password" json:"redis_password,omitempty"`
	TTLHours      int    `toml:"ttl_hours" json:"ttl_hours"`
}

// StorageConfig controls the SQLite decision audit log.
type StorageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// LoggingConfig controls diagnostics and the event log.
type LoggingConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// EventDir holds the daily edgeroute_YYYYMMDD.log files. Empty disables.
	EventDir string `toml:"event_dir" json:"event_dir"`
	// Development switches to zap's console encoder.
	Development bool `toml:"development" json:"development"`
}

// GenerationConfig holds backend settings and request defaults.
type GenerationConfig struct {
	OllamaURL    string  `toml:"ollama_url" json:"ollama_url"`
	DefaultModel string  `toml:"default_model" json:"default_model"`
	MaxTokens    int     `toml:"max_tokens" json:"max_tokens"`
	Temperature  float64 `toml:"temperature" json:"temperature"`
	TopP         float64 `toml:"top_p" json:"top_p"`
	TimeoutSecs  int     `toml:"timeout_secs" json:"timeout_secs"`
}

// ModelConfig is one entry of the model registry.
type ModelConfig struct {
	// Repo is the upstream model repository.
	Repo string `toml:"repo" json:"repo"`
	// BackendModel is the name passed to the generation backend.
	BackendModel string `toml:"backend_model" json:"backend_model"`
	// Compatible reflects testing against the current backend.
	Compatible bool `toml:"compatible" json:"compatible"`
}

// PerformanceTargets are reported by /system_info.
type PerformanceTargets struct {
	LocalLatencyMS           int `toml:"local_latency_ms" json:"local_latency_ms"`
	NetworkLatencyMS         int `toml:"network_latency_ms" json:"network_latency_ms"`
	ServerProcessingMS       int `toml:"server_processing_ms" json:"server_processing_ms"`
	TotalRoundtripMS         int `toml:"total_roundtrip_ms" json:"total_roundtrip_ms"`
	WordErrorRateOptimal     int `toml:"word_error_rate_optimal" json:"word_error_rate_optimal"`
	WordErrorRateChallenging int `toml:"word_error_rate_challenging" json:"word_error_rate_challenging"`
	CommandSuccessRate       int `toml:"command_success_rate" json:"command_success_rate"`
	ContextRetention         int `toml:"context_retention" json:"context_retention"`
	BatteryImpactPercent     int `toml:"battery_impact_percent" json:"battery_impact_percent"`
	MaxConcurrentUsers       int `toml:"max_concurrent_users" json:"max_concurrent_users"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Telemetry: TelemetryConfig{
			ProbeTimeoutMS: 2000,
			CacheTTLMS:     5000,
			PingHosts:      []string{"8.8.8.8", "1.1.1.1"},
		},
		Session: SessionConfig{
			Backend:  "memory",
			Dir:      "~/.edgeroute/conversations",
			TTLHours: 24,
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    "~/.edgeroute/decisions.db",
		},
		Logging: LoggingConfig{
			Level:    "info",
			EventDir: "~/.edgeroute/logs",
		},
		Generation: GenerationConfig{
			OllamaURL:    "http://127.0.0.1:11434",
			DefaultModel: "rene",
			MaxTokens:    200,
			Temperature:  0.85,
			TopP:         0.99,
			TimeoutSecs:  120,
		},
		Models: DefaultModels(),
		Targets: PerformanceTargets{
			LocalLatencyMS:           100,
			NetworkLatencyMS:         50,
			ServerProcessingMS:       50,
			TotalRoundtripMS:         200,
			WordErrorRateOptimal:     5,
			WordErrorRateChallenging: 15,
			CommandSuccessRate:       95,
			ContextRetention:         90,
			BatteryImpactPercent:     3,
			MaxConcurrentUsers:       50,
		},
	}
}

// DefaultModels returns the built-in model registry.
func DefaultModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		"rene":      {Repo: "cartesia-ai/Rene-v0.1-1.3b-4bit-mlx", BackendModel: "rene", Compatible: true},
		"llamba-1b": {Repo: "cartesia-ai/Llamba-1B", BackendModel: "llamba-1b", Compatible: false},
		"llamba-3b": {Repo: "cartesia-ai/Llamba-3B-4bit-mlx", BackendModel: "llamba-3b", Compatible: true},
		"llamba-8b": {Repo: "cartesia-ai/Llamba-8B", BackendModel: "llamba-8b", Compatible: true},
	}
}

// ModelNames returns the registry keys in sorted order.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelCompatible reports whether name is a known, compatible model.
// Unknown models are treated as incompatible.
func (c *Config) ModelCompatible(name string) bool {
	m, ok := c.Models[name]
	return ok && m.Compatible
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the edgeroute configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".edgeroute"), nil
}

// ConfigPath returns the path to the default TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads configuration from path, or the default location when path is
// empty. A missing file is not an error. A .env file in the working
// directory is loaded first so its variables take part in the overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// the values already in cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// fillDefaults fills in any zero values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.RateLimitBurst == 0 && cfg.Server.RateLimitRPS > 0 {
		cfg.Server.RateLimitBurst = int(cfg.Server.RateLimitRPS * 2)
	}

	if cfg.Telemetry.ProbeTimeoutMS == 0 {
		cfg.Telemetry.ProbeTimeoutMS = defaults.Telemetry.ProbeTimeoutMS
	}
	if len(cfg.Telemetry.PingHosts) == 0 {
		cfg.Telemetry.PingHosts = defaults.Telemetry.PingHosts
	}

	if cfg.Session.Backend == "" {
		cfg.Session.Backend = defaults.Session.Backend
	}
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = defaults.Session.Dir
	}
	if cfg.Session.TTLHours == 0 {
		cfg.Session.TTLHours = defaults.Session.TTLHours
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}

	g := &cfg.Generation
	if g.OllamaURL == "" {
		g.OllamaURL = defaults.Generation.OllamaURL
	}
	if g.DefaultModel == "" {
		g.DefaultModel = defaults.Generation.DefaultModel
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = defaults.Generation.MaxTokens
	}
	if g.Temperature == 0 {
		g.Temperature = defaults.Generation.Temperature
	}
	if g.TopP == 0 {
		g.TopP = defaults.Generation.TopP
	}
	if g.TimeoutSecs == 0 {
		g.TimeoutSecs = defaults.Generation.TimeoutSecs
	}

	if len(cfg.Models) == 0 {
		cfg.Models = defaults.Models
	}
	for name, m := range cfg.Models {
		if m.BackendModel == "" {
			m.BackendModel = name
			cfg.Models[name] = m
		}
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - SERVER_HOST, SERVER_PORT: override server.host / server.port
//   - EDGEROUTE_FORCE_VENUE: overrides routing.force_venue
//   - EDGEROUTE_OFFLINE: overrides routing.offline_mode
//   - EDGEROUTE_REDIS_ADDR: overrides session.redis_addr and selects redis
//   - REDIS_PASSWORD: overrides session.redis_password
//   - EDGEROUTE_OLLAMA_URL: overrides generation.ollama_url
//   - EDGEROUTE_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if venue := os.Getenv("EDGEROUTE_FORCE_VENUE"); venue != "" {
		c.Routing.ForceVenue = venue
	}
	if offline := os.Getenv("EDGEROUTE_OFFLINE"); offline != "" {
		c.Routing.OfflineMode = parseBool(offline)
	}

	if addr := os.Getenv("EDGEROUTE_REDIS_ADDR"); addr != "" {
		c.Session.RedisAddr = addr
		c.Session.Backend = "redis"
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Session.RedisPassword = pw
	}

	if u := os.Getenv("EDGEROUTE_OLLAMA_URL"); u != "" {
		c.Generation.OllamaURL = u
	}
	if level := os.Getenv("EDGEROUTE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# edgeroute configuration file")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port %d out of range 1-65535", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps", "must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		add("server.rate_limit_burst", "must be at least 1 when rate limiting is on")
	}

	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			add("server.trusted_proxies", "invalid CIDR '%s'", cidr)
		}
	}

	if c.Routing.ForceVenue != "" {
		if v, ok := router.ParseVenue(c.Routing.ForceVenue); !ok || v == router.VenueAutomatic {
			add("routing.force_venue", "invalid venue '%s', must be one of: local, server, hybrid", c.Routing.ForceVenue)
		}
	}

	if c.Telemetry.ProbeTimeoutMS < 0 {
		add("telemetry.probe_timeout_ms", "must not be negative")
	}

	switch c.Session.Backend {
	case "memory", "file":
	case "redis":
		if c.Session.RedisAddr == "" {
			add("session.redis_addr", "required when session.backend is redis")
		}
	default:
		add("session.backend", "invalid backend '%s', must be one of: memory, file, redis", c.Session.Backend)
	}
	if c.Session.TTLHours < 0 {
		add("session.ttl_hours", "must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	g := c.Generation
	if u, err := url.Parse(g.OllamaURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("generation.ollama_url", "must be an http(s) URL, got '%s'", g.OllamaURL)
	}
	if g.MaxTokens < 1 {
		add("generation.max_tokens", "must be at least 1")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		add("generation.temperature", "%.2f out of range 0-2", g.Temperature)
	}
	if g.TopP <= 0 || g.TopP > 1 {
		add("generation.top_p", "%.2f out of range (0, 1]", g.TopP)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	clone.Telemetry.PingHosts = append([]string(nil), c.Telemetry.PingHosts...)
	if c.Models != nil {
		clone.Models = make(map[string]ModelConfig, len(c.Models))
		for k, v := range c.Models {
			clone.Models[k] = v
		}
	}
	return &clone
}

// String returns the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Session.RedisPassword != "" {
		safe.Session.RedisPassword = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance. The first call loads
// the default config file, falling back to defaults on error.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
