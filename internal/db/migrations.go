package db

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step. Steps run in version order,
// each in its own transaction together with its schema_version row.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{version: 1, name: "fleet_schema", sql: initialSchemaV1},
	{version: 2, name: "api_usage_defaults", sql: apiUsageDefaultsV2},
	{version: 3, name: "agent_handle_lookup", sql: agentHandleIndexV3},
}

// agentHandleIndexV3 backs follow-by-handle, which matches handles without
// regard to case.
const agentHandleIndexV3 = `
CREATE INDEX IF NOT EXISTS idx_agents_handle ON agents(handle COLLATE NOCASE) WHERE handle IS NOT NULL;
`

// ApplyMigrations brings the fleet database up to LatestVersion. A database
// written by a newer server is refused rather than run against an older
// schema.
func ApplyMigrations(database *sql.DB) error {
	ctx := context.Background()
	if _, err := database.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	applied_at  TEXT NOT NULL
);`); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	current, err := SchemaVersion(ctx, database)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > LatestVersion() {
		return fmt.Errorf("database schema version %d is newer than this server supports (%d)", current, LatestVersion())
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, database, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// LatestVersion reports the highest schema version this binary knows about.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// SchemaVersion is the highest applied migration, 0 for an empty database.
func SchemaVersion(ctx context.Context, database *sql.DB) (int, error) {
	var version int
	err := database.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	return version, err
}

func applyMigration(ctx context.Context, database *sql.DB, m migration) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, nowString(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
