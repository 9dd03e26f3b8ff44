package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/melkeydev/treedb/databases/mysql"
	"github.com/natefinch/atomic"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath         = "config.yaml"
	DefaultDatabaseFile = "treedb.db"
	DefaultLogLevel     = "info"

	envPrefix = "TREEDB"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Tree     TreeConfig     `yaml:"tree,omitempty"`
}

type DatabaseConfig struct {
	DBType           string `yaml:"type"`
	ConnectionString string `yaml:"connection_string,omitempty"`
	File             string `yaml:"file,omitempty"`
	// Name is the registry name the database is opened under.
	Name string `yaml:"name,omitempty"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development,omitempty"`
}

type TreeConfig struct {
	Table string `yaml:"table,omitempty"`
}

// Default is the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{DBType: "sqlite", File: DefaultDatabaseFile},
		Log:      LogConfig{Level: DefaultLogLevel},
	}
}

// LoadConfig reads the YAML file at configPath, applies TREEDB_* environment
// overrides and fills defaults. A missing file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath
	}

	config := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	config.fillDefaults()

	return config, nil
}

// applyEnv overrides fields from TREEDB_DATABASE_TYPE, TREEDB_DATABASE_FILE,
// TREEDB_DATABASE_CONNECTION_STRING, TREEDB_DATABASE_NAME,
// TREEDB_LOG_LEVEL and TREEDB_TREE_TABLE.
func (c *Config) applyEnv() {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	overrides := map[string]*string{
		"database.type":              &c.Database.DBType,
		"database.file":              &c.Database.File,
		"database.connection_string": &c.Database.ConnectionString,
		"database.name":              &c.Database.Name,
		"log.level":                  &c.Log.Level,
		"tree.table":                 &c.Tree.Table,
	}
	for key, field := range overrides {
		if value := v.GetString(key); value != "" {
			*field = value
		}
	}

	if v.IsSet("log.development") {
		c.Log.Development = v.GetBool("log.development")
	}
}

func (c *Config) fillDefaults() {
	if c.Database.DBType == "" {
		c.Database.DBType = "sqlite"
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Save writes the configuration to path atomically, creating its directory.
func Save(path string, c *Config) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) GetConnectionString() (string, error) {
	switch d.DBType {
	case "postgres", "mysql":
		if d.ConnectionString == "" {
			return "", fmt.Errorf("Connection string is required for %s connection", d.DBType)
		}

		if d.DBType == "mysql" {
			if err := mysql.ValidateDSN(d.ConnectionString); err != nil {
				return "", err
			}
		}

		return d.ConnectionString, nil

	case "sqlite":
		if d.File == "" {
			d.File = DefaultDatabaseFile
		}
		return d.File, nil

	default:
		return "", fmt.Errorf("unsupported Database type: %s", d.DBType)
	}
}

// ConnectionName is the registry name, defaulting to the connection that
// bootstraps the users table.
func (d *DatabaseConfig) ConnectionName() string {
	if d.Name == "" {
		return "default_connection"
	}
	return d.Name
}
