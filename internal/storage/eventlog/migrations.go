package eventlog

import (
	"context"
	"fmt"

	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
)

// Step names.
const (
	AddAssetKeyIndexColumns   = "add_asset_key_index_columns"
	AddCachedStatusDataColumn = "add_cached_status_data_column"
	AddAssetEventTagsTable    = "add_asset_event_tags_table"
	AddDynamicPartitionsTable = "add_dynamic_partitions_table"

	// AssetKeyIndexCols backfills the denormalized asset_keys columns.
	// Until it has run, asset queries read the event log itself.
	AssetKeyIndexCols = "asset_key_index_columns"
)

// Migrations returns the ordered steps of event log storage.
func Migrations() *migration.Registry {
	return migration.NewRegistry(storage.DomainEventLogs.String(),
		migration.Step{
			Name:        AddAssetKeyIndexColumns,
			Kind:        migration.Structural,
			Description: "Add denormalized asset_keys columns",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, AssetKeysTable,
					[]string{"last_materialization_timestamp", "wipe_timestamp", "tags"}, nil)
			},
		},
		migration.Step{
			Name:        AddCachedStatusDataColumn,
			Kind:        migration.Structural,
			Description: "Add asset_keys.cached_status_data",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, AssetKeysTable, []string{"cached_status_data"}, nil)
			},
		},
		migration.Step{
			Name:        AddAssetEventTagsTable,
			Kind:        migration.Structural,
			Description: "Create the asset_event_tags table",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, AssetEventTagsTable, nil,
					[]string{idxAssetEventTags.Name, idxAssetEventTagsEventID.Name})
			},
		},
		migration.Step{
			Name:        AddDynamicPartitionsTable,
			Kind:        migration.Structural,
			Description: "Create the dynamic_partitions table",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, DynamicPartitionsTable, nil, []string{idxDynamicPartitions.Name})
			},
		},
		migration.Step{
			Name:        AssetKeyIndexCols,
			Kind:        migration.OptionalData,
			Description: "Backfill asset_keys from the event log",
			Up:          backfillAssetKeyIndexCols,
		},
	)
}

// backfillAssetKeyIndexCols adds the assets only known from events and
// fills last_materialization_timestamp from the latest materialization.
func backfillAssetKeyIndexCols(ctx context.Context, c *migration.Conn) error {
	if _, err := c.Exec(ctx, `INSERT INTO "asset_keys" ("asset_key", "create_timestamp")
SELECT "e"."asset_key", MIN("e"."timestamp") FROM "event_logs" "e"
WHERE "e"."asset_key" IS NOT NULL
  AND NOT EXISTS (SELECT 1 FROM "asset_keys" "a" WHERE "a"."asset_key" = "e"."asset_key")
GROUP BY "e"."asset_key"`); err != nil {
		return fmt.Errorf("failed to add asset keys: %w", err)
	}

	if _, err := c.Exec(ctx, `UPDATE "asset_keys" SET "last_materialization_timestamp" = (
  SELECT MAX("event_logs"."timestamp") FROM "event_logs"
  WHERE "event_logs"."asset_key" = "asset_keys"."asset_key" AND "event_logs"."dagster_event_type" = ?
) WHERE "last_materialization_timestamp" IS NULL`, string(AssetMaterialization)); err != nil {
		return fmt.Errorf("failed to backfill materialization timestamps: %w", err)
	}
	return nil
}
