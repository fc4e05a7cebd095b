package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultEnvironmentName = "local"
	// DefaultDataDir holds the SQLite files used when no URL is configured.
	DefaultDataDir = ".metamigrate"
	envPrefix      = "METAMIGRATE_"
)

// ResolvedEnvironment represents a fully-resolved environment with concrete values.
type ResolvedEnvironment struct {
	Name               string
	RunStorageURL      string
	EventLogStorageURL string
	ScheduleStorageURL string
	LogLevel           string
	LogFormat          string
	DotenvPath         string
	FromConfig         bool
	FromDotenv         bool
	FromProcessEnv     bool
}

// processEnv is read from METAMIGRATE_* variables.
type processEnv struct {
	DatabaseURL        string `env:"DATABASE_URL"`
	RunStorageURL      string `env:"RUN_STORAGE_URL"`
	EventLogStorageURL string `env:"EVENT_LOG_STORAGE_URL"`
	ScheduleStorageURL string `env:"SCHEDULE_STORAGE_URL"`
	LogLevel           string `env:"LOG_LEVEL"`
	LogFormat          string `env:"LOG_FORMAT"`
}

// urls is one layer of connection strings. Later layers win field by
// field.
type urls struct {
	database, runs, eventLogs, schedules string
}

func (u *urls) merge(o urls) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&u.database, o.database)
	set(&u.runs, o.runs)
	set(&u.eventLogs, o.eventLogs)
	set(&u.schedules, o.schedules)
}

// ResolveEnvironment resolves a named environment into per-domain
// connection strings. Layers apply in order: the environment table, the
// .env.<name> file next to the config, then METAMIGRATE_* variables.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if config != nil && config.DefaultEnvironment != "" {
			envName = config.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	var (
		envConfig EnvironmentConfig
		envExists bool
	)
	if config != nil && config.Environments != nil {
		envConfig, envExists = config.Environments[envName]
	}

	resolved := &ResolvedEnvironment{Name: envName, FromConfig: envExists}

	var layers urls
	if config != nil {
		layers.database = config.DatabaseURL
		resolved.LogLevel = config.Logging.Level
		resolved.LogFormat = config.Logging.Format
	}
	layers.merge(urls{envConfig.DatabaseURL, envConfig.RunStorageURL, envConfig.EventLogStorageURL, envConfig.ScheduleStorageURL})

	baseDir := config.ConfigDir()
	if baseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			baseDir = cwd
		}
	}
	resolved.DotenvPath = filepath.Join(baseDir, ".env."+envName)

	if info, err := os.Stat(resolved.DotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(resolved.DotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolved.DotenvPath, err)
		}
		resolved.FromDotenv = true
		layers.merge(urls{values["DATABASE_URL"], values["RUN_STORAGE_URL"], values["EVENT_LOG_STORAGE_URL"], values["SCHEDULE_STORAGE_URL"]})
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to access %s: %w", resolved.DotenvPath, err)
	}

	var pe processEnv
	if err := env.ParseWithOptions(&pe, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if pe != (processEnv{}) {
		resolved.FromProcessEnv = true
	}
	layers.merge(urls{pe.DatabaseURL, pe.RunStorageURL, pe.EventLogStorageURL, pe.ScheduleStorageURL})
	if pe.LogLevel != "" {
		resolved.LogLevel = pe.LogLevel
	}
	if pe.LogFormat != "" {
		resolved.LogFormat = pe.LogFormat
	}

	if config != nil && len(config.Environments) > 0 && !envExists && !resolved.FromDotenv {
		return nil, fmt.Errorf("environment %q not defined in %s and %s not found", envName, FileName, resolved.DotenvPath)
	}

	pick := func(domainURL, file string) string {
		switch {
		case domainURL != "":
			return domainURL
		case layers.database != "":
			return layers.database
		}
		return "sqlite://" + filepath.Join(baseDir, DefaultDataDir, file)
	}
	resolved.RunStorageURL = pick(layers.runs, "runs.db")
	resolved.EventLogStorageURL = pick(layers.eventLogs, "event_logs.db")
	resolved.ScheduleStorageURL = pick(layers.schedules, "schedules.db")
	return resolved, nil
}
