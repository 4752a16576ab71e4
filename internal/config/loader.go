package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultTailLines     = 500
	DefaultRefreshMillis = 250
	DefaultTheme         = ThemeAuto
	DefaultServerBind    = "127.0.0.1"
	DefaultServerPort    = 8374
	DefaultLogLevel      = "info"
	DefaultWatchDebounce = "500ms"
)

// DefaultConfig returns a Config with sensible default values.
// Engine.Binary is left empty so the engine package can auto-detect
// terraform vs tofu on PATH.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			Parallelism: 0,
		},
		UI: UIConfig{
			TailLines:     DefaultTailLines,
			RefreshMillis: DefaultRefreshMillis,
			Theme:         DefaultTheme,
		},
		Server: ServerConfig{
			Enabled: false,
			Bind:    DefaultServerBind,
			Port:    DefaultServerPort,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: DefaultWatchDebounce,
		},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// LoadConfig reads and parses .tfdeck/config.yaml from the given base path.
// If the file doesn't exist, returns default config.
// Applies defaults for any missing fields.
func LoadConfig(basePath string) (*Config, error) {
	configPath := filepath.Join(basePath, ".tfdeck", "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if cfg.Engine.Parallelism < 0 {
		return ValidationError{Field: "engine.parallelism", Message: "must not be negative"}
	}
	for _, vf := range cfg.Engine.VarFiles {
		if vf == "" {
			return ValidationError{Field: "engine.var_files", Message: "entries must not be empty"}
		}
	}
	if cfg.UI.TailLines <= 0 {
		return ValidationError{Field: "ui.tail_lines", Message: "must be positive"}
	}
	if cfg.UI.RefreshMillis <= 0 {
		return ValidationError{Field: "ui.refresh_millis", Message: "must be positive"}
	}
	switch cfg.UI.Theme {
	case ThemeAuto, ThemeDark, ThemeLight:
	default:
		return ValidationError{Field: "ui.theme", Message: "must be auto, dark, or light"}
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return ValidationError{Field: "server.port", Message: "must be between 0 and 65535"}
	}
	if cfg.Server.Enabled && cfg.Server.Bind == "" {
		return ValidationError{Field: "server.bind", Message: "required when server is enabled"}
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return ValidationError{Field: "logging.level", Message: "must be debug, info, warn, or error"}
	}
	if cfg.Watch.Debounce != "" {
		d, err := time.ParseDuration(cfg.Watch.Debounce)
		if err != nil {
			return ValidationError{Field: "watch.debounce", Message: "must be a duration like 500ms"}
		}
		if d < 0 {
			return ValidationError{Field: "watch.debounce", Message: "must not be negative"}
		}
	}
	return nil
}

// WatchDebounce returns the watch debounce window as a duration, falling
// back to the default when unset or unparseable.
func (c *Config) WatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		def, _ := time.ParseDuration(DefaultWatchDebounce)
		return def
	}
	return d
}

// RefreshInterval returns the dashboard tick interval as a duration.
func (c *Config) RefreshInterval() time.Duration {
	if c.UI.RefreshMillis <= 0 {
		return DefaultRefreshMillis * time.Millisecond
	}
	return time.Duration(c.UI.RefreshMillis) * time.Millisecond
}

// Save writes the config back to .tfdeck/config.yaml under the given base
// path, creating the .tfdeck directory if needed. Used by `tfdeck serve
// --set-password` to persist the password hash.
func Save(basePath string, cfg *Config) error {
	dir := filepath.Join(basePath, ".tfdeck")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
