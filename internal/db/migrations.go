package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/existflow/irondesk/internal/model"
)

// migrations are additive; the position in the list is the schema version
// stored in PRAGMA user_version
var migrations = []string{
	migrationCreateCollections,
	migrationCreateSyncQueue,
	migrationCreateSyncState,
	indexMigration(),
}

// migrate applies every migration newer than the stored schema version
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if err := applyMigration(ctx, db, i+1, migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmts string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmts); err != nil {
		return err
	}
	// PRAGMA does not take bound parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}

const migrationCreateCollections = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);
`

const migrationCreateSyncQueue = `
CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    op TEXT NOT NULL,
    tbl TEXT NOT NULL,
    data TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    retries INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_timestamp ON sync_queue(timestamp);
`

const migrationCreateSyncState = `
CREATE TABLE IF NOT EXISTS sync_state (
    key TEXT PRIMARY KEY,
    value TEXT
);
`

// Indexes lists the secondary indexes of each collection. Each is an
// expression index over a top-level JSON field of the same name.
var Indexes = map[model.Table][]string{
	model.TableTasks:    {"assignee_id", "status", "lead_id", "created_at", "updated_at"},
	model.TableMessages: {"task_id", "sender_id", "created_at", "synced"},
	model.TableUsers:    {"email", "role"},
}

func indexMigration() string {
	var b strings.Builder
	for _, table := range model.Tables {
		for _, field := range Indexes[table] {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);\n",
				table, field, table, jsonField(field))
		}
	}
	return b.String()
}

// jsonField is the SQL expression for a top-level document field. It must
// match the index expression exactly for SQLite to use the index.
func jsonField(field string) string {
	return fmt.Sprintf("json_extract(doc, '$.%s')", field)
}

func hasIndex(table model.Table, index string) bool {
	for _, f := range Indexes[table] {
		if f == index {
			return true
		}
	}
	return false
}
