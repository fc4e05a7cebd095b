package schedules

import "github.com/lockplane/metamigrate/database"

func nullable(name, typ string) database.Column {
	return database.Column{Name: name, Type: typ, Nullable: true}
}

func identity() database.Column {
	return database.Column{Name: "id", Type: "bigint", IsPrimaryKey: true, AutoIncrement: true}
}

var (
	idxJobsSelectorID        = database.Index{Name: "idx_jobs_selector_id", Columns: []string{"selector_id"}}
	idxTickSelectorTimestamp = database.Index{Name: "idx_tick_selector_timestamp", Columns: []string{"selector_id", "timestamp"}}
	idxInstigatorsSelectorID = database.Index{Name: "idx_instigators_selector_id", Columns: []string{"selector_id"}, Unique: true}
)

// JobsTable holds the state of every schedule and sensor. Rows written
// before instigators existed have no selector_id.
var JobsTable = database.Table{
	Name: "jobs",
	Columns: []database.Column{
		identity(),
		nullable("job_origin_id", "varchar(255)"),
		nullable("selector_id", "varchar(255)"),
		nullable("repository_origin_id", "varchar(255)"),
		database.Column{Name: "status", Type: "varchar(63)"},
		database.Column{Name: "job_type", Type: "varchar(63)"},
		nullable("job_body", "text"),
		nullable("create_timestamp", "timestamp"),
		nullable("update_timestamp", "timestamp"),
	},
	Indexes: []database.Index{
		{Name: "idx_jobs_job_origin_id", Columns: []string{"job_origin_id"}, Unique: true},
		idxJobsSelectorID,
	},
}

// JobTicksTable holds one row per evaluation of a schedule or sensor.
var JobTicksTable = database.Table{
	Name: "job_ticks",
	Columns: []database.Column{
		identity(),
		nullable("job_origin_id", "varchar(255)"),
		nullable("selector_id", "varchar(255)"),
		nullable("status", "varchar(63)"),
		nullable("type", "varchar(63)"),
		nullable("timestamp", "timestamp"),
		nullable("tick_body", "text"),
		nullable("create_timestamp", "timestamp"),
		nullable("update_timestamp", "timestamp"),
	},
	Indexes: []database.Index{
		{Name: "idx_job_tick_status", Columns: []string{"job_origin_id", "status"}},
		{Name: "idx_job_tick_timestamp", Columns: []string{"job_origin_id", "timestamp"}},
		idxTickSelectorTimestamp,
	},
}

// InstigatorsTable is keyed by selector id.
var InstigatorsTable = database.Table{
	Name: "instigators",
	Columns: []database.Column{
		identity(),
		database.Column{Name: "selector_id", Type: "varchar(255)"},
		nullable("repository_selector_id", "varchar(255)"),
		database.Column{Name: "status", Type: "varchar(63)"},
		database.Column{Name: "instigator_type", Type: "varchar(63)"},
		database.Column{Name: "instigator_body", Type: "text"},
		nullable("create_timestamp", "timestamp"),
		nullable("update_timestamp", "timestamp"),
	},
	Indexes: []database.Index{idxInstigatorsSelectorID},
}

// Tables returns the current shape of schedule storage.
func Tables() []database.Table {
	return []database.Table{JobsTable, JobTicksTable, InstigatorsTable}
}
