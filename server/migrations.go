package server

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs database migrations
func migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		migrationLegacyRecords,
		migrationNormTasks,
		migrationNormMessages,
		migrationNormUsers,
	}

	for i, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// legacy representation: one denormalized JSONB document per entity
const migrationLegacyRecords = `
CREATE TABLE IF NOT EXISTS legacy_records (
    tbl TEXT NOT NULL,
    id TEXT NOT NULL,
    doc JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tbl, id)
);

CREATE INDEX IF NOT EXISTS idx_legacy_records_updated ON legacy_records(tbl, updated_at);
`

const migrationNormTasks = `
CREATE TABLE IF NOT EXISTS norm_tasks (
    id TEXT PRIMARY KEY,
    title TEXT,
    description TEXT,
    status TEXT CHECK (status IN ('todo', 'in_progress', 'done')),
    priority INTEGER CHECK (priority BETWEEN 0 AND 4),
    assignee_id TEXT,
    lead_id TEXT,
    due_date TEXT,
    created_at TEXT,
    updated_at TEXT,
    written_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_norm_tasks_assignee ON norm_tasks(assignee_id);
CREATE INDEX IF NOT EXISTS idx_norm_tasks_status ON norm_tasks(status);
`

const migrationNormMessages = `
CREATE TABLE IF NOT EXISTS norm_messages (
    id TEXT PRIMARY KEY,
    task_id TEXT,
    sender_id TEXT,
    content TEXT,
    created_at TEXT,
    written_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_norm_messages_task ON norm_messages(task_id);
`

const migrationNormUsers = `
CREATE TABLE IF NOT EXISTS norm_users (
    id TEXT PRIMARY KEY,
    name TEXT,
    email TEXT,
    role TEXT,
    created_at TEXT,
    updated_at TEXT,
    written_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_norm_users_email ON norm_users(email);
`
