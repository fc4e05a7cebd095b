package instance_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lockplane/metamigrate/internal/driver"
	"github.com/lockplane/metamigrate/internal/instance"
	"github.com/lockplane/metamigrate/internal/snapshot"
	"github.com/lockplane/metamigrate/internal/storage"
	"github.com/lockplane/metamigrate/internal/storage/eventlog"
	"github.com/lockplane/metamigrate/internal/storage/runs"
	"github.com/lockplane/metamigrate/internal/storage/schedules"
)

func testConfig(t *testing.T) instance.Config {
	dir := t.TempDir()
	return instance.Config{
		RunStorageURL:      "sqlite://" + filepath.Join(dir, "runs.db"),
		EventLogStorageURL: "sqlite://" + filepath.Join(dir, "event_logs.db"),
		ScheduleStorageURL: "sqlite://" + filepath.Join(dir, "schedules.db"),
	}
}

// restoreLegacy writes the legacy snapshot of each domain to its file.
func restoreLegacy(t *testing.T, cfg instance.Config) {
	t.Helper()
	ctx := context.Background()
	for d, name := range map[storage.Domain]string{
		storage.DomainRuns:      snapshot.RunsLegacy,
		storage.DomainEventLogs: snapshot.EventLogsLegacy,
		storage.DomainSchedules: snapshot.SchedulesLegacy,
	} {
		db, _, err := driver.Open(ctx, cfg.URL(d))
		require.NoError(t, err)
		_, err = snapshot.Restore(ctx, db, name)
		require.NoError(t, err)
		require.NoError(t, db.Close())
	}
}

func open(t *testing.T, cfg instance.Config) *instance.Instance {
	t.Helper()
	inst, err := instance.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func TestOpenFresh(t *testing.T) {
	ctx := context.Background()
	inst := open(t, testConfig(t))

	result, err := inst.Upgrade(ctx)
	require.NoError(t, err)
	assert.Empty(t, result)
	result, err = inst.Reindex(ctx)
	require.NoError(t, err)
	assert.Empty(t, result)

	status, err := inst.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, status, 3)
	for d, steps := range status {
		for _, st := range steps {
			assert.True(t, st.Applied, "%s/%s", d, st.Step.Name)
		}
	}
}

func TestOpenRequiresEveryURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScheduleStorageURL = ""
	_, err := instance.Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedules")
}

func TestUpgradeLegacyInstance(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	restoreLegacy(t, cfg)
	inst := open(t, cfg)

	result, err := inst.Upgrade(ctx)
	require.NoError(t, err)
	assert.Contains(t, result[storage.DomainRuns], runs.BackfillIDColumnData)
	assert.Contains(t, result[storage.DomainEventLogs], eventlog.AddAssetEventTagsTable)
	assert.Contains(t, result[storage.DomainSchedules], schedules.JobsSelectorID)

	again, err := inst.Upgrade(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	result, err = inst.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, instance.Result{
		storage.DomainRuns:      {runs.RunStartEndOverwritten},
		storage.DomainEventLogs: {eventlog.AssetKeyIndexCols},
		storage.DomainSchedules: {schedules.TicksSelectorID},
	}, result)

	// The run times were read from the instance's event log.
	record, err := inst.Runs.GetRun(ctx, "legacy-run-2")
	require.NoError(t, err)
	require.NotNil(t, record.StartTime)
	require.NotNil(t, record.EndTime)

	ok, err := inst.EventLogs.HasSecondaryIndex(ctx, eventlog.AssetKeyIndexCols)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = inst.Schedules.HasBuiltIndex(ctx, schedules.TicksSelectorID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpgradeLeavesOtherDomainsAlone(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	restoreLegacy(t, cfg)
	inst := open(t, cfg)

	_, err := inst.Runs.Upgrade(ctx)
	require.NoError(t, err)

	ok, err := inst.Schedules.HasInstigatorsTable(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = inst.EventLogs.HasTable(ctx, "asset_event_tags")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSharedDatabase(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "shared.db")
	inst := open(t, instance.Config{RunStorageURL: url, EventLogStorageURL: url, ScheduleStorageURL: url})

	status, err := inst.Status(ctx)
	require.NoError(t, err)
	for d, steps := range status {
		for _, st := range steps {
			assert.True(t, st.Applied, "%s/%s", d, st.Step.Name)
		}
	}

	for _, table := range []string{"runs", "event_logs", "jobs", "instigators"} {
		ok, err := inst.Runs.HasTable(ctx, table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}
}

func TestWipeAndClose(t *testing.T) {
	ctx := context.Background()
	inst, err := instance.Open(ctx, testConfig(t))
	require.NoError(t, err)

	_, err = inst.Runs.AddRun(ctx, runs.Run{JobName: "etl"})
	require.NoError(t, err)
	require.NoError(t, inst.Wipe(ctx))

	ok, err := inst.Runs.Applied(ctx, runs.AddKVSTable)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, inst.Close())
	err = inst.Wipe(ctx)
	require.Error(t, err)
	for _, d := range storage.Domains() {
		assert.Contains(t, err.Error(), d.String()+" storage")
	}
}
