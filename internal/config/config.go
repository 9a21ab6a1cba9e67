package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on every HTTP API
	// request. A bind address other than loopback requires one.
	APIToken string `toml:"api_token"`
}

// Scale contains configuration for the serial scale session.
type Scale struct {
	// FreshnessWindowMillis is the maximum age of a reading relative to the
	// caller's as-of time. Zero disables the age check.
	FreshnessWindowMillis int `toml:"freshness_window_ms"`
	ReconnectAttempts     int `toml:"reconnect_attempts"`
	ReconnectDelayMillis  int `toml:"reconnect_delay_ms"`
	ReadTimeoutMillis     int `toml:"read_timeout_ms"`
}

// Checkout contains configuration for weighed sale lines and receipt formatting.
type Checkout struct {
	RetryAttempts    int    `toml:"retry_attempts"`
	RetryDelayMillis int    `toml:"retry_delay_ms"`
	Currency         string `toml:"currency"`
	Locale           string `toml:"locale"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes per-run daemon logs older than this. 0 keeps all.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for tillpoint.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and HTTP API bind address
//   - Scale: freshness window, reconnect policy, serial read timeout
//   - Checkout: scale read retries and currency display
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Scale    Scale    `toml:"scale"`
	Checkout Checkout `toml:"checkout"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tillpoint/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tillpoint.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite catalog location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "tillpoint.db")
}

// SettingsPath returns the persisted operator settings location.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Paths.DataDir, "settings.toml")
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "tillpoint.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "tillpointd.lock")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "tillpoint.log")
}

// FreshnessWindow returns the configured scale reading freshness window.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Scale.FreshnessWindowMillis) * time.Millisecond
}

// ReconnectDelay returns the pause between scale open attempts after an attach event.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Scale.ReconnectDelayMillis) * time.Millisecond
}

// ReadTimeout returns the serial read timeout used by the session reader.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Scale.ReadTimeoutMillis) * time.Millisecond
}

// RetryDelay returns the pause between checkout scale read attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Checkout.RetryDelayMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
