package eventlog

import "github.com/lockplane/metamigrate/database"

func nullable(name, typ string) database.Column {
	return database.Column{Name: name, Type: typ, Nullable: true}
}

func identity() database.Column {
	return database.Column{Name: "id", Type: "bigint", IsPrimaryKey: true, AutoIncrement: true}
}

var (
	idxAssetEventTags        = database.Index{Name: "idx_asset_event_tags", Columns: []string{"asset_key", "key", "value"}}
	idxAssetEventTagsEventID = database.Index{Name: "idx_asset_event_tags_event_id", Columns: []string{"event_id"}}
	idxDynamicPartitions     = database.Index{Name: "idx_dynamic_partitions", Columns: []string{"partitions_def_name", "partition"}, Unique: true}
)

// EventLogsTable holds every event of every run.
var EventLogsTable = database.Table{
	Name: "event_logs",
	Columns: []database.Column{
		identity(),
		nullable("run_id", "varchar(255)"),
		database.Column{Name: "event", Type: "long_text"},
		nullable("dagster_event_type", "varchar(255)"),
		nullable("timestamp", "timestamp"),
		nullable("step_key", "text"),
		nullable("asset_key", "varchar(255)"),
		nullable("partition", "text"),
	},
	Indexes: []database.Index{
		{Name: "idx_run_id", Columns: []string{"run_id"}},
		{Name: "idx_event_type", Columns: []string{"dagster_event_type", "id"}},
		{Name: "idx_events_by_asset", Columns: []string{"asset_key", "dagster_event_type", "id"}},
	},
}

// AssetKeysTable holds one row per asset with denormalized latest state.
var AssetKeysTable = database.Table{
	Name: "asset_keys",
	Columns: []database.Column{
		identity(),
		database.Column{Name: "asset_key", Type: "varchar(255)"},
		nullable("last_materialization", "text"),
		nullable("last_run_id", "varchar(255)"),
		nullable("asset_details", "text"),
		nullable("wipe_timestamp", "timestamp"),
		nullable("last_materialization_timestamp", "timestamp"),
		nullable("tags", "text"),
		nullable("create_timestamp", "timestamp"),
		nullable("cached_status_data", "text"),
	},
	Indexes: []database.Index{
		{Name: "idx_asset_keys_asset_key", Columns: []string{"asset_key"}, Unique: true},
	},
}

// AssetEventTagsTable holds the tags of materialization and observation
// events, searchable by asset.
var AssetEventTagsTable = database.Table{
	Name: "asset_event_tags",
	Columns: []database.Column{
		identity(),
		database.Column{Name: "event_id", Type: "bigint"},
		database.Column{Name: "asset_key", Type: "varchar(255)"},
		database.Column{Name: "key", Type: "varchar(255)"},
		nullable("value", "varchar(255)"),
		nullable("event_timestamp", "timestamp"),
	},
	Indexes: []database.Index{idxAssetEventTags, idxAssetEventTagsEventID},
}

// DynamicPartitionsTable holds the partition keys of dynamic partition
// definitions.
var DynamicPartitionsTable = database.Table{
	Name: "dynamic_partitions",
	Columns: []database.Column{
		identity(),
		database.Column{Name: "partitions_def_name", Type: "varchar(255)"},
		database.Column{Name: "partition", Type: "varchar(255)"},
		nullable("create_timestamp", "timestamp"),
	},
	Indexes: []database.Index{idxDynamicPartitions},
}

// Tables is the current shape of event log storage.
func Tables() []database.Table {
	return []database.Table{EventLogsTable, AssetKeysTable, AssetEventTagsTable, DynamicPartitionsTable}
}
