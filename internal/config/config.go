// Package config loads daemon settings from a YAML file, environment
// variables, and built-in defaults, in that order of precedence
// (environment wins over file, file wins over defaults).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	// Listen is the TCP port the gateway serves on.
	ListenPort int `mapstructure:"listen_port"`

	// WorkspaceRoot is the directory holding per-project file trees.
	WorkspaceRoot string `mapstructure:"workspace_root"`

	// PersistURL is the durable file store endpoint. Empty selects the
	// local SQLite store instead.
	PersistURL string `mapstructure:"persist_url"`

	// StorePath is the local SQLite store used when PersistURL is empty.
	StorePath string `mapstructure:"store_path"`

	// ProjectServiceURL receives idle-project reports. Empty disables
	// reporting.
	ProjectServiceURL string `mapstructure:"project_service_url"`

	// QuietPeriod is how long a file must go untouched before its cached
	// content is flushed to the store.
	QuietPeriod time.Duration `mapstructure:"quiet_period"`

	// IdleThreshold is how long a project must go without mutations
	// before it is reported idle.
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`

	// IdleScanInterval is how often rooms are scanned for idleness.
	IdleScanInterval time.Duration `mapstructure:"idle_scan_interval"`

	// Watcher debounce windows.
	FastDebounce   time.Duration `mapstructure:"fast_debounce"`
	BulkDebounce   time.Duration `mapstructure:"bulk_debounce"`
	StabilizeDelay time.Duration `mapstructure:"stabilize_delay"`

	// RulesFile optionally overrides the built-in watch rules.
	RulesFile string `mapstructure:"rules_file"`

	// Logging.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_port", 8080)
	v.SetDefault("workspace_root", "./workspace")
	v.SetDefault("persist_url", "")
	v.SetDefault("store_path", "./anvil.db")
	v.SetDefault("project_service_url", "")
	v.SetDefault("quiet_period", "5s")
	v.SetDefault("idle_threshold", "30m")
	v.SetDefault("idle_scan_interval", "1m")
	v.SetDefault("fast_debounce", "100ms")
	v.SetDefault("bulk_debounce", "1s")
	v.SetDefault("stabilize_delay", "250ms")
	v.SetDefault("rules_file", "")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 28)
}

// Load resolves the configuration. path names an explicit config file; when
// empty, anvil.yaml is searched for in the working directory and $HOME. A
// missing file is not an error, a malformed one is. Every key can also be
// set through an ANVIL_-prefixed environment variable (ANVIL_LISTEN_PORT,
// ANVIL_WORKSPACE_ROOT, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ANVIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("anvil")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range", c.ListenPort)
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root must not be empty")
	}
	if c.PersistURL == "" && c.StorePath == "" {
		return fmt.Errorf("either persist_url or store_path must be set")
	}
	if c.QuietPeriod <= 0 {
		return fmt.Errorf("quiet_period must be positive, got %s", c.QuietPeriod)
	}
	if c.IdleThreshold <= 0 {
		return fmt.Errorf("idle_threshold must be positive, got %s", c.IdleThreshold)
	}
	return nil
}
