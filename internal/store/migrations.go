package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all flowserve tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS deployments (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		flow_name          TEXT NOT NULL,
		schedule           TEXT NOT NULL DEFAULT '{}',
		is_schedule_active INTEGER NOT NULL DEFAULT 0,
		parameters         TEXT NOT NULL DEFAULT '{}',
		description        TEXT NOT NULL DEFAULT '',
		tags               TEXT NOT NULL DEFAULT '[]',
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS flow_runs (
		id                  TEXT PRIMARY KEY,
		name                TEXT NOT NULL DEFAULT '',
		deployment_id       TEXT NOT NULL,
		flow_name           TEXT NOT NULL,
		state_type          TEXT NOT NULL DEFAULT 'SCHEDULED',
		state_name          TEXT NOT NULL DEFAULT '',
		state_message       TEXT NOT NULL DEFAULT '',
		state_timestamp     TEXT NOT NULL,
		parameters          TEXT NOT NULL DEFAULT '{}',
		runner_name         TEXT NOT NULL DEFAULT '',
		auto_scheduled      INTEGER NOT NULL DEFAULT 0,
		expected_start_time TEXT NOT NULL,
		start_time          TEXT,
		end_time            TEXT,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL,
		FOREIGN KEY (deployment_id) REFERENCES deployments(id)
	)`,

	`CREATE TABLE IF NOT EXISTS variables (
		name       TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		tags       TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_deployments_full_name ON deployments(flow_name, name)`,
	`CREATE INDEX IF NOT EXISTS idx_flow_runs_deployment_id ON flow_runs(deployment_id)`,
	// Compound index for the due-run query (state + expected start)
	`CREATE INDEX IF NOT EXISTS idx_flow_runs_state_start ON flow_runs(state_type, expected_start_time)`,
	// One auto-scheduled run per fire time
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_flow_runs_auto_slot
		ON flow_runs(deployment_id, expected_start_time) WHERE auto_scheduled = 1`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "flow_runs",
		column:   "runner_name",
		alterSQL: "ALTER TABLE flow_runs ADD COLUMN runner_name TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_flow_runs_runner_name ON flow_runs(runner_name)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		return nil
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
