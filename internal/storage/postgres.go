package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"allele/internal/model"
)

// PostgresStore persists records as JSONB payloads in PostgreSQL. It either
// borrows a caller-owned pool or, when built from a DSN, owns and closes one.
type PostgresStore struct {
	dsn string

	mu       sync.RWMutex
	pool     *pgxpool.Pool
	ownsPool bool
}

// NewPostgresStore wraps an existing pool. The caller owns the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgresStoreFromDSN connects lazily on Init and closes the pool on
// Close.
func NewPostgresStoreFromDSN(dsn string) *PostgresStore {
	return &PostgresStore{dsn: dsn}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		if s.dsn == "" {
			return errors.New("postgres dsn is required")
		}
		pool, err := pgxpool.New(ctx, s.dsn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		s.pool = pool
		s.ownsPool = true
	}
	if err := s.pool.Ping(ctx); err != nil {
		if s.ownsPool {
			s.pool.Close()
			s.pool = nil
		}
		return fmt.Errorf("ping postgres: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS allele_genomes (
			run_id TEXT NOT NULL,
			id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload JSONB NOT NULL,
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS allele_populations (
			id TEXT PRIMARY KEY,
			generation INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS allele_runs (
			run_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			fitness TEXT NOT NULL,
			generations INTEGER NOT NULL,
			best_genome_id TEXT NOT NULL,
			best_fitness DOUBLE PRECISION NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS allele_runs_created_idx ON allele_runs(created_at, run_id)`,
		`CREATE TABLE IF NOT EXISTS allele_lineage (
			run_id TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveGenome(ctx context.Context, runID string, genome model.Genome) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := JSON.Marshal(genome)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO allele_genomes (run_id, id, schema_version, codec_version, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			codec_version = EXCLUDED.codec_version,
			payload = EXCLUDED.payload
	`, runID, genome.ID, genome.SchemaVersion, genome.CodecVersion, payload)
	return err
}

func (s *PostgresStore) GetGenome(ctx context.Context, runID, id string) (model.Genome, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Genome{}, false, err
	}
	payload, ok, err := queryPayload(ctx, pool, `SELECT payload FROM allele_genomes WHERE run_id = $1 AND id = $2`, runID, id)
	if err != nil || !ok {
		return model.Genome{}, ok, err
	}
	genome, err := DecodeGenome(payload)
	if err != nil {
		return model.Genome{}, false, fmt.Errorf("decode genome %s: %w", id, err)
	}
	return genome, true, nil
}

func (s *PostgresStore) SavePopulation(ctx context.Context, population model.Population) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := JSON.Marshal(population)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO allele_populations (id, generation, schema_version, codec_version, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			generation = EXCLUDED.generation,
			schema_version = EXCLUDED.schema_version,
			codec_version = EXCLUDED.codec_version,
			payload = EXCLUDED.payload
	`, population.ID, population.Generation, population.SchemaVersion, population.CodecVersion, payload)
	return err
}

func (s *PostgresStore) GetPopulation(ctx context.Context, id string) (model.Population, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Population{}, false, err
	}
	payload, ok, err := queryPayload(ctx, pool, `SELECT payload FROM allele_populations WHERE id = $1`, id)
	if err != nil || !ok {
		return model.Population{}, ok, err
	}
	population, err := DecodePopulation(payload)
	if err != nil {
		return model.Population{}, false, fmt.Errorf("decode population %s: %w", id, err)
	}
	return population, true, nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	run.CreatedAt = normalizeTime(run.CreatedAt)
	payload, err := JSON.Marshal(run)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO allele_runs (run_id, created_at, fitness, generations, best_genome_id, best_fitness, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			fitness = EXCLUDED.fitness,
			generations = EXCLUDED.generations,
			best_genome_id = EXCLUDED.best_genome_id,
			best_fitness = EXCLUDED.best_fitness,
			payload = EXCLUDED.payload
	`, run.RunID, run.CreatedAt, run.Fitness, len(run.Summaries), run.Best.ID, run.BestFitness, payload)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.RunRecord{}, false, err
	}
	payload, ok, err := queryPayload(ctx, pool, `SELECT payload FROM allele_runs WHERE run_id = $1`, runID)
	if err != nil || !ok {
		return model.RunRecord{}, ok, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, true, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context) ([]RunInfo, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT run_id, created_at, fitness, generations, best_genome_id, best_fitness
		FROM allele_runs
		ORDER BY created_at, run_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var info RunInfo
		if err := rows.Scan(&info.RunID, &info.CreatedAt, &info.Fitness, &info.Generations, &info.BestGenomeID, &info.BestFitness); err != nil {
			return nil, err
		}
		info.CreatedAt = info.CreatedAt.UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := JSON.Marshal(lineage)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO allele_lineage (run_id, payload)
		VALUES ($1, $2)
		ON CONFLICT (run_id) DO UPDATE SET payload = EXCLUDED.payload
	`, runID, payload)
	return err
}

func (s *PostgresStore) GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}
	payload, ok, err := queryPayload(ctx, pool, `SELECT payload FROM allele_lineage WHERE run_id = $1`, runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	lineage, err := DecodeLineage(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode lineage %s: %w", runID, err)
	}
	return lineage, true, nil
}

// Close releases the pool when the store created it.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil && s.ownsPool {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pool == nil {
		return nil, ErrNotInitialized
	}
	return s.pool, nil
}

func queryPayload(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]byte, bool, error) {
	var payload []byte
	err := pool.QueryRow(ctx, query, args...).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}
