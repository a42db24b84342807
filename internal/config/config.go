// Package config loads and validates the portage configuration from YAML
// files and PORTAGE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the portage configuration.
type Config struct {
	Source      SourceConfig      `mapstructure:"source"`
	Destination DestinationConfig `mapstructure:"destination"`
	Migration   MigrationConfig   `mapstructure:"migration"`
	Log         LogConfig         `mapstructure:"log"`
}

// SourceConfig holds the source database connection parameters.
// Either URL is set directly, or Instance/Database/User describe a
// Cloud SQL instance reachable through its unix socket directory.
type SourceConfig struct {
	URL             string `mapstructure:"url"`
	Instance        string `mapstructure:"instance"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	PasswordCommand string `mapstructure:"password_command"`
}

// DestinationConfig holds the destination database connection parameters.
type DestinationConfig struct {
	URL             string `mapstructure:"url"`
	PasswordCommand string `mapstructure:"password_command"`
}

// MigrationConfig holds copy behavior settings.
type MigrationConfig struct {
	BatchSize int     `mapstructure:"batch_size"`
	Tables    []Table `mapstructure:"tables"`
}

// Table declares one table to migrate.
type Table struct {
	Name           string   `mapstructure:"name"`
	Columns        []string `mapstructure:"columns"`
	IdentityColumn string   `mapstructure:"identity_column"`
	DependsOn      []string `mapstructure:"depends_on"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from default locations.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from a specific path.
// If configPath is empty, it searches default locations.
func LoadFromPath(configPath string) (*Config, error) {
	v := viper.New()

	// Environment variable support
	v.AutomaticEnv()
	v.SetEnvPrefix("PORTAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "portage"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "portage"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, rely on defaults and environment
			return configFromViper(v)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return configFromViper(v)
}

// configFromViper extracts the config from a viper instance.
func configFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(cfg.Migration.Tables) == 0 {
		cfg.Migration.Tables = DefaultTables()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default configuration values.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("source.url", "")
	v.SetDefault("source.instance", "")
	v.SetDefault("source.database", "")
	v.SetDefault("source.user", "")

	v.SetDefault("destination.url", "")

	v.SetDefault("migration.batch_size", 1000)

	v.SetDefault("log.path", "")
}

// Validate checks that the configuration has valid values.
// Missing connection parameters are enumerated in a single error so the
// operator can fix them all in one pass.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}

	if c.Destination.URL == "" {
		return fmt.Errorf("destination.url is required (postgres:// connection string)")
	}

	if c.Migration.BatchSize < 1 {
		return fmt.Errorf("migration.batch_size must be >= 1, got %d", c.Migration.BatchSize)
	}

	for _, t := range c.Migration.Tables {
		if t.Name == "" {
			return fmt.Errorf("migration.tables entries must have a name")
		}
		if len(t.Columns) == 0 {
			return fmt.Errorf("migration.tables entry %q must declare columns", t.Name)
		}
	}

	return nil
}

// Validate checks the source connection parameters.
func (s *SourceConfig) Validate() error {
	if s.URL != "" {
		return nil
	}

	var missing []string
	if s.Instance == "" {
		missing = append(missing, "source.instance")
	}
	if s.Database == "" {
		missing = append(missing, "source.database")
	}
	if s.User == "" {
		missing = append(missing, "source.user")
	}
	if len(missing) > 0 {
		return fmt.Errorf("source connection requires %s (or set source.url)", strings.Join(missing, ", "))
	}

	if strings.Count(s.Instance, ":") != 2 {
		return fmt.Errorf("source.instance must be in format 'project:region:instance', got: %s", s.Instance)
	}

	return nil
}

// DSN returns the source connection string. An explicit URL wins;
// otherwise the Cloud SQL instance is addressed through its unix
// socket directory, the same path the Cloud SQL proxy mounts.
func (s *SourceConfig) DSN() string {
	if s.URL != "" {
		return s.URL
	}
	return fmt.Sprintf("host=/cloudsql/%s dbname=%s user=%s", s.Instance, s.Database, s.User)
}
