package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestResolveDriver(t *testing.T) {
	t.Parallel()
	directory := t.TempDir()
	testCases := []struct {
		name       string
		dsn        string
		wantDriver string
		wantPath   string
	}{
		{name: "postgres", dsn: "postgres://u:p@db/market", wantDriver: DriverPostgres},
		{name: "postgresql", dsn: "postgresql://db/market", wantDriver: DriverPostgres},
		{name: "sqlite url", dsn: "sqlite://" + filepath.Join(directory, "a", "market.db"), wantDriver: DriverSQLite, wantPath: filepath.Join(directory, "a", "market.db")},
		{name: "bare path", dsn: filepath.Join(directory, "b.db"), wantDriver: DriverSQLite, wantPath: filepath.Join(directory, "b.db")},
		{name: "memory", dsn: memoryPath, wantDriver: DriverSQLite, wantPath: memoryPath},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			driver, path, err := ResolveDriver(testCase.dsn)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if driver != testCase.wantDriver || path != testCase.wantPath {
				t.Fatalf("expected (%s, %s), got (%s, %s)", testCase.wantDriver, testCase.wantPath, driver, path)
			}
		})
	}
}

func TestOpenSQLitePreparesSchema(t *testing.T) {
	t.Parallel()
	database, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = database.Close() }()
	if database.Driver != DriverSQLite {
		t.Fatalf("expected sqlite driver, got %s", database.Driver)
	}
	if err := PrepareSchema(database); err != nil {
		t.Fatalf("prepare schema: %v", err)
	}
	for _, table := range []string{"credit_balances", "credit_transactions", "listings", "notifications"} {
		if !database.Gorm.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}
