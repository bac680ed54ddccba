package database

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(&Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigratorRun(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}

	// The events table from the initial schema must exist
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='events'`).Scan(&name)
	if err != nil {
		t.Fatalf("events table missing after migrations: %v", err)
	}

	// Ledger records the applied version
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("Failed to query schema_migrations: %v", err)
	}
	if count == 0 {
		t.Error("No migrations recorded in schema_migrations")
	}
}

func TestMigratorIdempotent(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	var before int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&before); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	var after int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&after); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	if before != after {
		t.Errorf("Migration count changed on rerun: %d -> %d", before, after)
	}
}

func TestMigratorGetStatus(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)

	status, err := m.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if len(status) == 0 {
		t.Fatal("Expected at least one known migration")
	}
	for _, mig := range status {
		if !mig.AppliedAt.IsZero() {
			t.Errorf("Migration %d reported applied before Run", mig.Version)
		}
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}

	status, err = m.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	for _, mig := range status {
		if mig.AppliedAt.IsZero() {
			t.Errorf("Migration %d not marked applied", mig.Version)
		}
	}
}

func TestMigrationsOrdered(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db)

	available, err := m.getAvailableMigrations()
	if err != nil {
		t.Fatalf("getAvailableMigrations failed: %v", err)
	}

	for i := 1; i < len(available); i++ {
		if available[i].Version <= available[i-1].Version {
			t.Errorf("Migrations out of order: %d after %d", available[i].Version, available[i-1].Version)
		}
	}
}
