package storage

import (
	"context"
	"errors"
	"os"
	"testing"
)

const postgresDSNEnv = "ALLELE_TEST_POSTGRES_DSN"

func TestPostgresStoreConformance(t *testing.T) {
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}
	ctx := context.Background()
	store := NewPostgresStoreFromDSN(dsn)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pool, err := store.getPool()
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, table := range []string{"allele_genomes", "allele_populations", "allele_runs", "allele_lineage"} {
		if _, err := pool.Exec(ctx, "TRUNCATE "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	exerciseStore(t, store)
}

func TestPostgresStoreRequiresInit(t *testing.T) {
	store := NewPostgresStoreFromDSN("postgres://unused")
	if _, err := store.ListRuns(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := NewPostgresStoreFromDSN("").Init(context.Background()); err == nil {
		t.Fatal("expected missing dsn error")
	}
}
