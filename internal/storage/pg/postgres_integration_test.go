//go:build integration

package pg_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pvzzle/paytrack/internal/storage"
	"github.com/pvzzle/paytrack/internal/storage/pg"
)

func TestStore_SaveAndLoad(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		dsn = os.Getenv("PG_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_PG_DSN/PG_DSN is not set")
	}

	ctx := context.Background()

	pool, err := pg.Connect(ctx, dsn, 5*time.Second)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	repo := pg.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	_, _ = pool.Exec(ctx, "TRUNCATE kv_store")

	_, found, err := repo.Load(ctx, storage.KeyTransactions)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatal("expected empty store")
	}

	if err := repo.Save(ctx, storage.KeyTransactions, []byte(`[1]`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(ctx, storage.KeyTransactions, []byte(`[1,2]`)); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}

	got, found, err := repo.Load(ctx, storage.KeyTransactions)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found || string(got) != `[1,2]` {
		t.Fatalf("expected overwritten value, found=%v got=%s", found, got)
	}
}
