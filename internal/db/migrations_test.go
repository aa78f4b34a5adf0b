package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	database, err := Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func strPtr(v string) *string { return &v }

func TestMigrationsIdempotentAndLatestVersionApplied(t *testing.T) {
	ctx := context.Background()
	database, err := Open(filepath.Join(t.TempDir(), "nested", "migrations.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("first migration apply: %v", err)
	}
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second migration apply: %v", err)
	}

	var latest int
	if err := database.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&latest); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if latest != LatestVersion() {
		t.Fatalf("expected schema version %d, got %d", LatestVersion(), latest)
	}

	var services int
	if err := database.QueryRowContext(ctx, `SELECT COUNT(1) FROM api_usage`).Scan(&services); err != nil {
		t.Fatalf("count api_usage rows: %v", err)
	}
	if services != 2 {
		t.Fatalf("expected default api_usage rows for platform and llm, got %d", services)
	}
}

func TestMigrationsAddHandleIndexAndRefuseNewerSchema(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t, "future.db")

	version, err := SchemaVersion(ctx, database)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != LatestVersion() {
		t.Fatalf("schema version = %d, want %d", version, LatestVersion())
	}

	var indexes int
	if err := database.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sqlite_master WHERE type = 'index' AND name = 'idx_agents_handle'`).Scan(&indexes); err != nil {
		t.Fatalf("look up handle index: %v", err)
	}
	if indexes != 1 {
		t.Fatalf("handle lookup index missing")
	}

	if _, err := database.ExecContext(ctx,
		`INSERT INTO schema_version (version, name, applied_at) VALUES (?, 'from_a_newer_server', ?)`,
		LatestVersion()+1, nowString()); err != nil {
		t.Fatalf("insert future version: %v", err)
	}
	err = ApplyMigrations(database)
	if err == nil || !strings.Contains(err.Error(), "newer than this server") {
		t.Fatalf("expected newer schema to be refused, got %v", err)
	}
}
