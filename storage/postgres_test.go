package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/tracejournal/trace/internal/testutil"
)

func newTestDB(t *testing.T) *testutil.TestDB {
	t.Helper()
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	t.Cleanup(db.Close)

	ctx := context.Background()
	if err := db.Apply(ctx, Schema); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	return db
}

func cleanTables(t *testing.T, db *testutil.TestDB) {
	t.Helper()
	if err := db.CleanTables(context.Background(), Tables...); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}
}

func TestIntegration_PostgresStore(t *testing.T) {
	db := newTestDB(t)
	runStoreSuite(t, func(t *testing.T) Store {
		cleanTables(t, db)
		return NewPostgresStore(db.Pool)
	})
}

func TestIntegration_PostgresStore_CommitInCallerTx(t *testing.T) {
	db := newTestDB(t)
	cleanTables(t, db)
	ctx := context.Background()
	store := NewPostgresStore(db.Pool)

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	txCtx := WithTx(ctx, tx)
	if err := store.Commit(txCtx, &Commit{SessionID: "s1", UserID: "u1", Turns: turns("a"), At: base}); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	if _, err := store.Load(ctx, "s1"); err != ErrNotFound {
		t.Errorf("Load() after rollback error = %v, want ErrNotFound", err)
	}
}

func TestIntegration_SQLStore(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := sql.Open("postgres", db.URL)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	runStoreSuite(t, func(t *testing.T) Store {
		cleanTables(t, db)
		return NewSQLStore(sqlDB)
	})
}
