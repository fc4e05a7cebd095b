package mysql

import (
	"testing"

	"github.com/lockplane/metamigrate/database"
)

func TestGenerator_FormatColumnDefinition(t *testing.T) {
	gen := NewGenerator()

	tests := []struct {
		name     string
		col      database.Column
		expected string
	}{
		{"bigint identity", database.Column{Name: "id", Type: "bigint", IsPrimaryKey: true, AutoIncrement: true}, `"id" BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY`},
		{"int identity", database.Column{Name: "id", Type: "integer", IsPrimaryKey: true, AutoIncrement: true}, `"id" INT NOT NULL AUTO_INCREMENT PRIMARY KEY`},
		{"long text", database.Column{Name: "run_body", Type: "long_text"}, `"run_body" LONGTEXT NOT NULL`},
		{"double", database.Column{Name: "start_time", Type: "double", Nullable: true}, `"start_time" DOUBLE`},
		{"timestamp", database.Column{Name: "create_timestamp", Type: "timestamp", Nullable: true}, `"create_timestamp" DATETIME(6)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gen.FormatColumnDefinition(tt.col); got != tt.expected {
				t.Errorf("FormatColumnDefinition() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGenerator_WidenIdentifier(t *testing.T) {
	steps := NewGenerator().WidenIdentifier("runs", database.Column{Name: "id", Type: "int"})
	if len(steps) != 1 {
		t.Fatalf("Expected 1 step, got %d", len(steps))
	}
	want := `ALTER TABLE "runs" MODIFY COLUMN "id" BIGINT NOT NULL AUTO_INCREMENT`
	if steps[0].SQL != want {
		t.Errorf("WidenIdentifier() = %q, want %q", steps[0].SQL, want)
	}
}

func TestGenerator_AlterColumnType(t *testing.T) {
	steps := NewGenerator().AlterColumnType("runs", database.Column{Name: "start_time", Type: "double", Nullable: true})
	want := `ALTER TABLE "runs" MODIFY COLUMN "start_time" DOUBLE`
	if len(steps) != 1 || steps[0].SQL != want {
		t.Errorf("AlterColumnType() = %+v, want %q", steps, want)
	}
}

func TestGenerator_AddIdentityColumn(t *testing.T) {
	steps := NewGenerator().AddIdentityColumn(database.Table{Name: "instance_info"}, database.Column{Name: "id", Type: "integer"})
	want := `ALTER TABLE "instance_info" ADD COLUMN "id" INT NOT NULL AUTO_INCREMENT PRIMARY KEY FIRST`
	if len(steps) != 1 || steps[0].SQL != want {
		t.Errorf("AddIdentityColumn() = %+v, want %q", steps, want)
	}
}

func TestGenerator_IndexStatements(t *testing.T) {
	gen := NewGenerator()
	idx := database.Index{Name: "idx_kvs_keys_unique", Columns: []string{"key"}, Unique: true}

	create, _ := gen.AddIndex("kvs", idx)
	if create != `CREATE UNIQUE INDEX "idx_kvs_keys_unique" ON "kvs" ("key")` {
		t.Errorf("Unexpected CREATE INDEX %q", create)
	}
	drop, _ := gen.DropIndex("kvs", idx)
	if drop != `DROP INDEX "idx_kvs_keys_unique" ON "kvs"` {
		t.Errorf("Unexpected DROP INDEX %q", drop)
	}
}

func TestGenerator_Upsert(t *testing.T) {
	gen := NewGenerator()

	got := gen.Upsert("kvs", []string{"key"}, []string{"key", "value"})
	want := `INSERT INTO "kvs" ("key", "value") VALUES (?, ?) ON DUPLICATE KEY UPDATE "value" = VALUES("value")`
	if got != want {
		t.Errorf("Upsert() = %q, want %q", got, want)
	}

	got = gen.InsertIgnore("instigators", []string{"selector_id"}, []string{"selector_id", "status"})
	want = `INSERT INTO "instigators" ("selector_id", "status") VALUES (?, ?) ON DUPLICATE KEY UPDATE "selector_id" = "selector_id"`
	if got != want {
		t.Errorf("InsertIgnore() = %q, want %q", got, want)
	}
}
