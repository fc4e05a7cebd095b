package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
)

// FileName is the config file looked up from the working directory.
const FileName = "metamigrate.toml"

//go:embed config.schema.json
var configSchema string

// LoggingConfig is the [logging] table.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// EnvironmentConfig describes a single named environment from
// metamigrate.toml. Empty per-domain URLs fall back to DatabaseURL.
type EnvironmentConfig struct {
	DatabaseURL        string `toml:"database_url"`
	RunStorageURL      string `toml:"run_storage_url"`
	EventLogStorageURL string `toml:"event_log_storage_url"`
	ScheduleStorageURL string `toml:"schedule_storage_url"`
}

type Config struct {
	DefaultEnvironment string                       `toml:"default_environment"`
	DatabaseURL        string                       `toml:"database_url"`
	Logging            LoggingConfig                `toml:"logging"`
	Environments       map[string]EnvironmentConfig `toml:"environments"`
	ConfigFilePath     string                       `toml:"-"`

	configDir string
}

// ConfigDir is the directory holding the config file, or empty when
// none was found.
func (c *Config) ConfigDir() string {
	if c == nil {
		return ""
	}
	if c.configDir != "" {
		return c.configDir
	}
	if c.ConfigFilePath != "" {
		return filepath.Dir(c.ConfigFilePath)
	}
	return ""
}

// LoadConfig searches the working directory and its parents, up to the
// project root, for metamigrate.toml. No file yields an empty config.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(startDir)
}

// LoadConfigFrom is LoadConfig starting at dir.
func LoadConfigFrom(dir string) (*Config, error) {
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, err
			}
			config, err := Parse(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", configPath, err)
			}
			config.ConfigFilePath = configPath
			config.configDir = dir
			return config, nil
		}

		if isProjectRoot(dir) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return &Config{}, nil
}

// Parse validates TOML config data against the config schema and
// decodes it.
func Parse(data []byte) (*Config, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid TOML: %w", err)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func validate(doc map[string]any) error {
	if doc == nil {
		doc = map[string]any{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod", "package.json", "pyproject.toml"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
