package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const exampleConfig = `default_environment = "local"

[logging]
level = "debug"
format = "json"

[environments.local]
database_url = "postgres://localhost:5432/orchestrator?sslmode=disable"
event_log_storage_url = "postgres://localhost:5432/events?sslmode=disable"
`

// compareConfigPaths compares two paths, resolving symlinks
func compareConfigPaths(t *testing.T, expected, actual string) {
	t.Helper()

	expectedResolved, err := filepath.EvalSymlinks(expected)
	if err != nil {
		expectedResolved = expected
	}
	actualResolved, err := filepath.EvalSymlinks(actual)
	if err != nil {
		actualResolved = actual
	}

	if expectedResolved != actualResolved {
		t.Errorf("Expected ConfigFilePath=%q, got %q", expectedResolved, actualResolved)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadConfigInStartDirectory(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, FileName)
	writeFile(t, configPath, exampleConfig)

	config, err := LoadConfigFrom(tempDir)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}

	compareConfigPaths(t, configPath, config.ConfigFilePath)
	if config.DefaultEnvironment != "local" {
		t.Errorf("Expected default environment local, got %q", config.DefaultEnvironment)
	}
	if config.Logging.Level != "debug" || config.Logging.Format != "json" {
		t.Errorf("Unexpected logging config: %+v", config.Logging)
	}
	local, ok := config.Environments["local"]
	if !ok {
		t.Fatal("Expected local environment")
	}
	if local.EventLogStorageURL != "postgres://localhost:5432/events?sslmode=disable" {
		t.Errorf("Unexpected event log URL %q", local.EventLogStorageURL)
	}
}

func TestLoadConfigWalksUpToProjectRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module example\n")
	writeFile(t, filepath.Join(root, FileName), exampleConfig)
	nested := filepath.Join(root, "deploy", "jobs")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}

	config, err := LoadConfigFrom(nested)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}
	compareConfigPaths(t, filepath.Join(root, FileName), config.ConfigFilePath)
	compareConfigPaths(t, root, config.ConfigDir())
}

func TestLoadConfigStopsAtProjectRoot(t *testing.T) {
	t.Parallel()

	outer := t.TempDir()
	writeFile(t, filepath.Join(outer, FileName), exampleConfig)
	project := filepath.Join(outer, "project")
	writeFile(t, filepath.Join(project, ".git", "HEAD"), "ref: refs/heads/main\n")

	config, err := LoadConfigFrom(project)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}
	if config.ConfigFilePath != "" {
		t.Errorf("Expected no config above the project root, got %q", config.ConfigFilePath)
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{
			name:        "unknown top-level key",
			content:     "postgres_url = \"x\"\n",
			errContains: "postgres_url",
		},
		{
			name:        "unknown log level",
			content:     "[logging]\nlevel = \"trace\"\n",
			errContains: "level",
		},
		{
			name:        "unknown environment key",
			content:     "[environments.local]\nshadow_database_url = \"x\"\n",
			errContains: "shadow_database_url",
		},
		{
			name:        "wrong type",
			content:     "[environments.local]\ndatabase_url = 5\n",
			errContains: "database_url",
		},
		{
			name:        "not toml",
			content:     "[environments\n",
			errContains: "invalid TOML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	config, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(config.Environments) != 0 {
		t.Errorf("Expected no environments, got %v", config.Environments)
	}
}
