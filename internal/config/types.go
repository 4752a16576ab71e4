package config

// EngineConfig controls how the terraform/tofu subprocess is invoked.
type EngineConfig struct {
	Binary      string   `yaml:"binary"`
	VarFiles    []string `yaml:"var_files,omitempty"`
	Targets     []string `yaml:"targets,omitempty"`
	Parallelism int      `yaml:"parallelism"`
	NoColor     bool     `yaml:"no_color"`
}

// UIConfig controls dashboard rendering.
type UIConfig struct {
	TailLines     int    `yaml:"tail_lines"`
	RefreshMillis int    `yaml:"refresh_millis"`
	Theme         string `yaml:"theme"`
}

// ServerConfig controls the read-only share server.
type ServerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Bind         string `yaml:"bind"`
	Port         int    `yaml:"port"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// LoggingConfig controls the zap logger destination and verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// WatchConfig controls the workspace file watcher. Debounce is a
// time.ParseDuration string such as "500ms".
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

// Config represents the .tfdeck/config.yaml file.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	UI      UIConfig      `yaml:"ui"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Watch   WatchConfig   `yaml:"watch"`
}

// Theme names accepted by ui.theme.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
)
