package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/snapshot"
)

// run executes the root command with args against a SQLite database in a
// temporary directory and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		wipeYes = false
		introspectDomain = ""
	})
	err := rootCmd.Execute()
	return stdout.String(), err
}

func useTempStorage(t *testing.T) string {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "metadata.db")
	t.Setenv("METAMIGRATE_DATABASE_URL", url)
	return url
}

func TestRootCommand(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}
	if rootCmd.Use != "metamigrate" {
		t.Errorf("expected Use to be 'metamigrate', got %q", rootCmd.Use)
	}
	if rootCmd.Version == "" {
		t.Error("rootCmd.Version should not be empty")
	}
}

func TestCommandsRegistered(t *testing.T) {
	expectedCommands := map[string]bool{
		"upgrade":        false,
		"reindex":        false,
		"migrate-bigint": false,
		"status":         false,
		"introspect":     false,
		"wipe":           false,
		"snapshot":       false,
		"version":        false,
	}

	for _, cmd := range rootCmd.Commands() {
		if _, exists := expectedCommands[cmd.Name()]; exists {
			expectedCommands[cmd.Name()] = true
		}
	}

	for cmdName, registered := range expectedCommands {
		if !registered {
			t.Errorf("expected command %q to be registered", cmdName)
		}
	}
}

func TestUpgradeFreshStorage(t *testing.T) {
	useTempStorage(t)

	out, err := run(t, "upgrade")
	if err != nil {
		t.Fatalf("upgrade returned error: %v", err)
	}
	if out != "" {
		t.Errorf("expected no applied steps on a fresh database, got %q", out)
	}

	out, err = run(t, "status")
	if err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	for _, want := range []string{"runs\n", "event_logs\n", "schedules\n", "add_kvs_table"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected status output to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "pending") {
		t.Errorf("expected every step applied, got:\n%s", out)
	}
}

func TestSnapshotRestoreThenUpgrade(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("METAMIGRATE_RUN_STORAGE_URL", "sqlite://"+filepath.Join(dir, "runs.db"))
	t.Setenv("METAMIGRATE_EVENT_LOG_STORAGE_URL", "sqlite://"+filepath.Join(dir, "event_logs.db"))
	t.Setenv("METAMIGRATE_SCHEDULE_STORAGE_URL", "sqlite://"+filepath.Join(dir, "schedules.db"))

	for _, name := range []string{snapshot.RunsLegacy, snapshot.EventLogsLegacy, snapshot.SchedulesLegacy} {
		if _, err := run(t, "snapshot", "restore", name); err != nil {
			t.Fatalf("snapshot restore %s returned error: %v", name, err)
		}
	}

	out, err := run(t, "upgrade")
	if err != nil {
		t.Fatalf("upgrade returned error: %v", err)
	}
	for _, want := range []string{"runs/add_run_time_columns", "schedules/schedule_jobs_selector_id"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected upgrade output to contain %q, got:\n%s", want, out)
		}
	}

	out, err = run(t, "reindex")
	if err != nil {
		t.Fatalf("reindex returned error: %v", err)
	}
	if !strings.Contains(out, "event_logs/asset_key_index_columns") {
		t.Errorf("expected reindex output to name the asset key backfill, got:\n%s", out)
	}

	out, err = run(t, "migrate-bigint")
	if err != nil {
		t.Fatalf("migrate-bigint returned error: %v", err)
	}
	if out != "" {
		t.Errorf("expected nothing to widen on SQLite, got %q", out)
	}
}

func TestIntrospectDomain(t *testing.T) {
	useTempStorage(t)

	out, err := run(t, "introspect", "--domain", "schedules")
	if err != nil {
		t.Fatalf("introspect returned error: %v", err)
	}
	var schema database.Schema
	if err := json.Unmarshal([]byte(out), &schema); err != nil {
		t.Fatalf("introspect output is not JSON: %v\n%s", err, out)
	}
	var names []string
	for _, table := range schema.Tables {
		names = append(names, table.Name)
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "instigators") || strings.Contains(joined, "event_logs") {
		t.Errorf("expected only schedule tables, got %s", joined)
	}

	if _, err := run(t, "introspect", "--domain", "assets"); err == nil {
		t.Error("expected error for unknown domain")
	}
}

func TestWipeRequiresConfirmation(t *testing.T) {
	useTempStorage(t)

	if _, err := run(t, "wipe"); err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected refusal without --yes, got %v", err)
	}
	if _, err := run(t, "wipe", "--yes"); err != nil {
		t.Fatalf("wipe --yes returned error: %v", err)
	}

	out, err := run(t, "status")
	if err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("expected markers cleared after wipe, got:\n%s", out)
	}
}
