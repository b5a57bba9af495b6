package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cloudradar/livemap/internal/flight"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Upstream UpstreamConfig `toml:"upstream"` // Dashboard API the map reads from
	Area     flight.Bbox    `toml:"area"`     // Monitored bounding box
	Refresh  RefreshConfig  `toml:"refresh"`  // Snapshot polling and animation settings
	Toggle   ToggleConfig   `toml:"toggle"`   // Ingester on/off switch settings
	Markers  MarkersConfig  `toml:"markers"`  // Marker rendering settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, required for the websocket)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// UpstreamConfig contains the dashboard API connection settings
type UpstreamConfig struct {
	BaseURL               string  `toml:"base_url"`                    // Base URL of the dashboard API (e.g., http://localhost:3000)
	FlightsPath           string  `toml:"flights_path"`                // Path of the flights list endpoint; metrics, detail and stream hang off it
	AdminScalePath        string  `toml:"admin_scale_path"`            // Path of the ingester scale endpoint
	TimeoutSecs           int     `toml:"timeout_seconds"`             // Per-request timeout
	RequestsPerSecond     float64 `toml:"requests_per_second"`         // Client-side rate limit (0 = unlimited)
	Burst                 int     `toml:"burst"`                       // Rate limiter burst size
	ReconnectDelaySecs    int     `toml:"reconnect_delay_seconds"`     // Initial delay before reconnecting the update stream
	MaxReconnectDelaySecs int     `toml:"max_reconnect_delay_seconds"` // Upper bound of the stream reconnect backoff
}

// RefreshConfig contains snapshot polling and animation settings
type RefreshConfig struct {
	IntervalSecs    int `toml:"interval_seconds"`    // Watchdog interval between snapshot fetches
	Limit           int `toml:"limit"`               // Maximum number of aircraft per snapshot
	FrameIntervalMS int `toml:"frame_interval_ms"`   // Animation frame period
	StaleAfterSecs  int `toml:"stale_after_seconds"` // Age after which an aircraft or the feed counts as stale
	SelectionMisses int `toml:"selection_misses"`    // Consecutive snapshots without the selected aircraft before it is dropped
	DetailCacheSize int `toml:"detail_cache_size"`   // Number of recently viewed aircraft details kept in memory
}

// ToggleConfig contains the ingester toggle settings
type ToggleConfig struct {
	Enabled            bool   `toml:"enabled"`                 // Expose the ingester switch
	PollIntervalSecs   int    `toml:"poll_interval_seconds"`   // Poll period while waiting for the scale to converge
	TimeoutSecs        int    `toml:"timeout_seconds"`         // How long to wait for convergence
	ResyncIntervalSecs int    `toml:"resync_interval_seconds"` // Background status refresh period
	Username           string `toml:"username"`                // Optional admin username preloaded into the credential cache
	Password           string `toml:"password"`                // Optional admin password preloaded into the credential cache
}

// MarkersConfig contains marker rendering settings
type MarkersConfig struct {
	DefaultZoom float64 `toml:"default_zoom"` // Zoom used until a client reports its own
	DebugHitbox bool    `toml:"debug_hitbox"` // Outline marker hit areas
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level      string `toml:"level"`        // Log level: "debug", "info", "warn", or "error"
	Format     string `toml:"format"`       // Log format: "json" (structured) or "console" (human-readable)
	File       string `toml:"file"`         // Optional rotating log file
	MaxSizeMB  int    `toml:"max_size_mb"`  // Rotate after this many megabytes
	MaxBackups int    `toml:"max_backups"`  // Number of rotated files to keep
	MaxAgeDays int    `toml:"max_age_days"` // Days to keep rotated files
}

// Default returns the configuration used for every key a file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			Host:               "0.0.0.0",
			CORSAllowedOrigins: []string{"*"},
			ReadTimeoutSecs:    15,
			IdleTimeoutSecs:    60,
		},
		Upstream: UpstreamConfig{
			BaseURL:               "http://localhost:3000",
			FlightsPath:           "/api/flights",
			AdminScalePath:        "/admin/ingester/scale",
			TimeoutSecs:           10,
			RequestsPerSecond:     5,
			Burst:                 5,
			ReconnectDelaySecs:    1,
			MaxReconnectDelaySecs: 30,
		},
		Area: flight.IleDeFrance,
		Refresh: RefreshConfig{
			IntervalSecs:    10,
			Limit:           400,
			FrameIntervalMS: 16,
			StaleAfterSecs:  120,
			SelectionMisses: 3,
			DetailCacheSize: 32,
		},
		Toggle: ToggleConfig{
			Enabled:            true,
			PollIntervalSecs:   2,
			TimeoutSecs:        30,
			ResyncIntervalSecs: 30,
		},
		Markers: MarkersConfig{
			DefaultZoom: 8,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	config := Default()

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file on top of the defaults
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			// File exists, try to load it
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}

	// Validate upstream config
	base, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("invalid upstream base_url: %q", c.Upstream.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return fmt.Errorf("upstream base_url must use http or https: %q", c.Upstream.BaseURL)
	}
	for name, path := range map[string]string{
		"flights_path":     c.Upstream.FlightsPath,
		"admin_scale_path": c.Upstream.AdminScalePath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("upstream %s must start with '/': %q", name, path)
		}
	}
	if c.Upstream.TimeoutSecs <= 0 {
		return fmt.Errorf("invalid upstream timeout_seconds: %d (must be > 0)", c.Upstream.TimeoutSecs)
	}
	if c.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid upstream requests_per_second: %v (must be >= 0)", c.Upstream.RequestsPerSecond)
	}
	if c.Upstream.MaxReconnectDelaySecs < c.Upstream.ReconnectDelaySecs {
		return fmt.Errorf("upstream max_reconnect_delay_seconds must be >= reconnect_delay_seconds")
	}

	// Validate area
	if err := c.Area.Validate(); err != nil {
		return fmt.Errorf("invalid area: %w", err)
	}

	// Validate refresh config
	if c.Refresh.IntervalSecs <= 0 {
		return fmt.Errorf("invalid refresh interval_seconds: %d (must be > 0)", c.Refresh.IntervalSecs)
	}
	if c.Refresh.Limit <= 0 || c.Refresh.Limit > 5000 {
		return fmt.Errorf("invalid refresh limit: %d (must be between 1 and 5000)", c.Refresh.Limit)
	}
	if c.Refresh.FrameIntervalMS <= 0 {
		return fmt.Errorf("invalid refresh frame_interval_ms: %d (must be > 0)", c.Refresh.FrameIntervalMS)
	}
	if c.Refresh.StaleAfterSecs <= 0 {
		return fmt.Errorf("invalid refresh stale_after_seconds: %d (must be > 0)", c.Refresh.StaleAfterSecs)
	}
	if c.Refresh.SelectionMisses <= 0 {
		return fmt.Errorf("invalid refresh selection_misses: %d (must be > 0)", c.Refresh.SelectionMisses)
	}
	if c.Refresh.DetailCacheSize <= 0 {
		return fmt.Errorf("invalid refresh detail_cache_size: %d (must be > 0)", c.Refresh.DetailCacheSize)
	}

	// Validate toggle config
	if c.Toggle.Enabled {
		if c.Toggle.PollIntervalSecs <= 0 || c.Toggle.TimeoutSecs <= 0 || c.Toggle.ResyncIntervalSecs <= 0 {
			return fmt.Errorf("toggle intervals and timeout must be > 0")
		}
		if c.Toggle.PollIntervalSecs > c.Toggle.TimeoutSecs {
			return fmt.Errorf("toggle poll_interval_seconds (%d) must not exceed timeout_seconds (%d)",
				c.Toggle.PollIntervalSecs, c.Toggle.TimeoutSecs)
		}
		if (c.Toggle.Username == "") != (c.Toggle.Password == "") {
			return fmt.Errorf("toggle username and password must be set together")
		}
	}

	// Validate markers config
	if c.Markers.DefaultZoom < 0 || c.Markers.DefaultZoom > 22 {
		return fmt.Errorf("invalid markers default_zoom: %v (must be between 0 and 22)", c.Markers.DefaultZoom)
	}

	// Validate logging config
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	return nil
}

// Address returns the host:port the HTTP server listens on
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Timeout returns the per-request timeout
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSecs) * time.Second
}

// Interval returns the watchdog interval
func (r RefreshConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSecs) * time.Second
}

// FrameInterval returns the animation frame period
func (r RefreshConfig) FrameInterval() time.Duration {
	return time.Duration(r.FrameIntervalMS) * time.Millisecond
}

// StaleAfter returns the staleness threshold
func (r RefreshConfig) StaleAfter() time.Duration {
	return time.Duration(r.StaleAfterSecs) * time.Second
}
