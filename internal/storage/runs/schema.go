package runs

import (
	"github.com/lockplane/metamigrate/database"
)

func nullable(name, typ string) database.Column {
	return database.Column{Name: name, Type: typ, Nullable: true}
}

func required(name, typ string) database.Column {
	return database.Column{Name: name, Type: typ}
}

func identity() database.Column {
	return database.Column{Name: "id", Type: "bigint", IsPrimaryKey: true, AutoIncrement: true}
}

var (
	idxRunRange = database.Index{Name: "idx_run_range", Columns: []string{"status", "update_timestamp", "create_timestamp"}}

	idxRunsByBackfillID = database.Index{Name: "idx_runs_by_backfill_id", Columns: []string{"backfill_id", "id"}}

	idxBulkActionsActionType = database.Index{Name: "idx_bulk_actions_action_type", Columns: []string{"action_type"}}
	idxBulkActionsSelectorID = database.Index{Name: "idx_bulk_actions_selector_id", Columns: []string{"selector_id"}}

	idxKVSKeysUnique = database.Index{Name: "idx_kvs_keys_unique", Columns: []string{"key"}, Unique: true}
)

// RunsTable holds one row per run.
var RunsTable = database.Table{
	Name: "runs",
	Columns: []database.Column{
		identity(),
		required("run_id", "varchar(255)"),
		nullable("snapshot_id", "varchar(255)"),
		nullable("pipeline_name", "varchar(255)"),
		nullable("mode", "text"),
		nullable("status", "varchar(63)"),
		nullable("run_body", "long_text"),
		nullable("partition", "varchar(255)"),
		nullable("partition_set", "varchar(255)"),
		nullable("create_timestamp", "timestamp"),
		nullable("update_timestamp", "timestamp"),
		nullable("start_time", "double"),
		nullable("end_time", "double"),
		nullable("backfill_id", "varchar(255)"),
	},
	Indexes: []database.Index{
		{Name: "idx_runs_run_id", Columns: []string{"run_id"}, Unique: true},
		{Name: "idx_run_status", Columns: []string{"status"}},
		{Name: "idx_run_partitions", Columns: []string{"partition_set", "partition"}},
		idxRunRange,
		idxRunsByBackfillID,
	},
}

// RunTagsTable holds the tags of every run.
var RunTagsTable = database.Table{
	Name: "run_tags",
	Columns: []database.Column{
		identity(),
		nullable("run_id", "varchar(255)"),
		nullable("key", "varchar(255)"),
		nullable("value", "varchar(255)"),
	},
	Indexes: []database.Index{
		{Name: "idx_run_tags", Columns: []string{"key", "value"}},
		{Name: "idx_run_tags_run_idx", Columns: []string{"run_id", "id"}},
	},
}

// BulkActionsTable holds backfills.
var BulkActionsTable = database.Table{
	Name: "bulk_actions",
	Columns: []database.Column{
		identity(),
		required("key", "varchar(32)"),
		required("status", "varchar(255)"),
		required("timestamp", "timestamp"),
		nullable("body", "text"),
		nullable("action_type", "varchar(32)"),
		nullable("selector_id", "varchar(255)"),
	},
	Indexes: []database.Index{
		{Name: "idx_bulk_actions", Columns: []string{"key"}, Unique: true},
		{Name: "idx_bulk_actions_status", Columns: []string{"status"}},
		idxBulkActionsActionType,
		idxBulkActionsSelectorID,
	},
}

// DaemonHeartbeatsTable holds the latest heartbeat of each daemon type.
var DaemonHeartbeatsTable = database.Table{
	Name: "daemon_heartbeats",
	Columns: []database.Column{
		identity(),
		required("daemon_type", "varchar(255)"),
		nullable("daemon_id", "varchar(255)"),
		nullable("timestamp", "timestamp"),
		nullable("body", "text"),
	},
	Indexes: []database.Index{
		{Name: "idx_daemon_heartbeats_daemon_type", Columns: []string{"daemon_type"}, Unique: true},
	},
}

// InstanceInfoTable holds the run storage id.
var InstanceInfoTable = database.Table{
	Name: "instance_info",
	Columns: []database.Column{
		identity(),
		nullable("run_storage_id", "text"),
	},
}

// KeyValueStoreTable holds daemon cursors.
var KeyValueStoreTable = database.Table{
	Name: "kvs",
	Columns: []database.Column{
		identity(),
		required("key", "varchar(255)"),
		nullable("value", "text"),
	},
	Indexes: []database.Index{idxKVSKeysUnique},
}

// Tables is the current shape of run storage.
func Tables() []database.Table {
	return []database.Table{
		RunsTable,
		RunTagsTable,
		BulkActionsTable,
		DaemonHeartbeatsTable,
		InstanceInfoTable,
		KeyValueStoreTable,
	}
}

func table(name string) database.Table {
	for _, t := range Tables() {
		if t.Name == name {
			return t
		}
	}
	panic("runs: no table " + name)
}

func column(tableName, columnName string) database.Column {
	col, ok := table(tableName).Column(columnName)
	if !ok {
		panic("runs: no column " + tableName + "." + columnName)
	}
	return col
}
