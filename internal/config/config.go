// Package config provides TOML configuration file loading and parsing for idelink.
// The configuration file lives at ~/.idelink/config.toml by default, but can be
// overridden with the --config flag. CLI flags take precedence over file values,
// and IDELINK_* environment variables take precedence over both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the idelink configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// ServerURL is the websocket endpoint of the assistant backend.
	// Default: ws://127.0.0.1:65432/ide/ws
	ServerURL string `toml:"server_url"`

	// AuthToken is sent as a bearer token on the websocket upgrade request.
	AuthToken string `toml:"auth_token"`

	// TLSCAFile is a PEM bundle used to verify wss:// endpoints.
	TLSCAFile string `toml:"tls_ca_file"`

	// TLSFingerprint pins the backend certificate by SHA-256 fingerprint.
	// When set, the certificate chain is not verified against any CA.
	TLSFingerprint string `toml:"tls_fingerprint"`

	// MdnsDiscover browses the local network for a backend when ServerURL is empty.
	// Default: false
	MdnsDiscover bool `toml:"mdns_discover"`

	// MdnsTimeoutMs bounds the mDNS browse.
	// Default: 3000
	MdnsTimeoutMs int `toml:"mdns_timeout_ms"`

	// MatchByKind lets a response without a correlationId resolve the oldest
	// pending request of the same kind. Needed for backends that only echo kinds.
	// Default: true
	MatchByKind *bool `toml:"match_by_kind"`

	// Workspace is the root directory exposed to the backend.
	// If empty, defaults to the current working directory.
	Workspace string `toml:"workspace"`

	// StateDB is the path to the SQLite database for settings and sessions.
	// Default: ~/.idelink/idelink.db
	StateDB string `toml:"state_db"`

	// ControlSocket is the unix socket path for local control commands.
	// Default: ~/.idelink/control.sock
	ControlSocket string `toml:"control_socket"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// LogFile redirects log output. Empty means stderr.
	LogFile string `toml:"log_file"`

	// ReadyPollMs is the interval at which the session establisher checks
	// whether the connection is open.
	// Default: 1000
	ReadyPollMs int `toml:"ready_poll_ms"`

	// HandshakeTimeoutMs bounds the wait for the GUI session. 0 waits forever.
	HandshakeTimeoutMs int `toml:"handshake_timeout_ms"`

	// HighlightDwellMs is how long a highlight ignores cursor moves.
	// Default: 2000
	HighlightDwellMs int `toml:"highlight_dwell_ms"`

	// HighlightMaxMs removes a highlight after this long even without a cursor move.
	// Default: 0 (highlights persist until the next cursor move)
	HighlightMaxMs int `toml:"highlight_max_ms"`

	// CommandRatePerSec throttles runCommand requests.
	// Default: 5
	CommandRatePerSec float64 `toml:"command_rate_per_sec"`

	// CommandSettleMs is how long to collect terminal output after a command.
	// Default: 500
	CommandSettleMs int `toml:"command_settle_ms"`

	// Shell is the program run in new terminals.
	// If empty, defaults to the user's shell ($SHELL or /bin/sh).
	Shell string `toml:"shell"`

	// HistoryLines is the number of terminal lines retained per terminal.
	// Default: 5000
	HistoryLines int `toml:"history_lines"`

	// StreamCommandOutput forwards terminal output to the backend as it arrives.
	// Default: false
	StreamCommandOutput bool `toml:"stream_command_output"`

	// WatchPollMs is the interval for detecting on-disk changes to open files.
	// 0 disables the watcher. Default: 1000
	WatchPollMs *int `toml:"watch_poll_ms"`
}

// DefaultConfigPath returns the default config file location: ~/.idelink/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// StateDir returns ~/.idelink.
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".idelink"), nil
}

// WriteDefault creates a starter config file at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string, serverURL string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	content := fmt.Sprintf(`# idelink configuration
# Created by 'idelink init'

# Assistant backend endpoint
server_url = %q

# Logging: debug, info, warn, error
log_level = "info"

# Keep highlights until the next cursor move (0) or expire them after N ms
highlight_max_ms = 0
`, serverURL)

	// Owner read/write only: the file may later hold auth_token.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.idelink/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
//
// Defaults are not applied; call ApplyDefaults once flags have been merged.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides connection settings from the environment.
// Priority: $IDELINK_SERVER_URL / $IDELINK_AUTH_TOKEN env > config value.
func (c *Config) ApplyEnv() {
	if url := os.Getenv("IDELINK_SERVER_URL"); url != "" {
		c.ServerURL = url
	}
	if token := os.Getenv("IDELINK_AUTH_TOKEN"); token != "" {
		c.AuthToken = token
	}
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.ServerURL == "" && !c.MdnsDiscover {
		c.ServerURL = DefaultServerURL
	}
	if c.MdnsTimeoutMs <= 0 {
		c.MdnsTimeoutMs = DefaultMdnsTimeoutMs
	}
	if c.MatchByKind == nil {
		v := true
		c.MatchByKind = &v
	}
	if c.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Workspace = wd
		}
	}
	if dir, err := StateDir(); err == nil {
		if c.StateDB == "" {
			c.StateDB = filepath.Join(dir, DefaultStateDBName)
		}
		if c.ControlSocket == "" {
			c.ControlSocket = filepath.Join(dir, DefaultControlSocketName)
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ReadyPollMs <= 0 {
		c.ReadyPollMs = DefaultReadyPollMs
	}
	if c.HighlightDwellMs <= 0 {
		c.HighlightDwellMs = DefaultHighlightDwellMs
	}
	if c.CommandRatePerSec <= 0 {
		c.CommandRatePerSec = DefaultCommandRatePerSec
	}
	if c.CommandSettleMs <= 0 {
		c.CommandSettleMs = DefaultCommandSettleMs
	}
	if c.Shell == "" {
		c.Shell = os.Getenv("SHELL")
		if c.Shell == "" {
			c.Shell = DefaultShell
		}
	}
	if c.HistoryLines <= 0 {
		c.HistoryLines = DefaultHistoryLines
	}
	if c.WatchPollMs == nil {
		v := DefaultWatchPollMs
		c.WatchPollMs = &v
	}
}

// KindMatching reports whether kind-based response matching is enabled.
func (c *Config) KindMatching() bool {
	return c.MatchByKind == nil || *c.MatchByKind
}

// ReadyPollInterval returns ReadyPollMs as a duration.
func (c *Config) ReadyPollInterval() time.Duration {
	return ms(c.ReadyPollMs)
}

// HandshakeTimeout returns HandshakeTimeoutMs as a duration (0 = unbounded).
func (c *Config) HandshakeTimeout() time.Duration {
	return ms(c.HandshakeTimeoutMs)
}

// HighlightDwell returns HighlightDwellMs as a duration.
func (c *Config) HighlightDwell() time.Duration {
	return ms(c.HighlightDwellMs)
}

// HighlightMaxLifetime returns HighlightMaxMs as a duration (0 = disabled).
func (c *Config) HighlightMaxLifetime() time.Duration {
	return ms(c.HighlightMaxMs)
}

// CommandSettle returns CommandSettleMs as a duration.
func (c *Config) CommandSettle() time.Duration {
	return ms(c.CommandSettleMs)
}

// MdnsTimeout returns MdnsTimeoutMs as a duration.
func (c *Config) MdnsTimeout() time.Duration {
	return ms(c.MdnsTimeoutMs)
}

// WatchPollInterval returns WatchPollMs as a duration (0 = disabled).
func (c *Config) WatchPollInterval() time.Duration {
	if c.WatchPollMs == nil {
		return ms(DefaultWatchPollMs)
	}
	return ms(*c.WatchPollMs)
}

func ms(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}
