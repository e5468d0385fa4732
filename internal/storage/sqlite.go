package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"allele/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in an embedded SQLite database. Each payload
// row records the codec it was written with, so stores written with different
// codecs stay readable.
type SQLiteStore struct {
	path  string
	codec Codec

	mu sync.RWMutex
	db *sql.DB
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteCodec selects the payload codec for new writes. Defaults to JSON.
func WithSQLiteCodec(codec Codec) SQLiteOption {
	return func(s *SQLiteStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

func NewSQLiteStore(path string, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{path: path, codec: JSON}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveGenome(ctx context.Context, runID string, genome model.Genome) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := s.codec.Marshal(genome)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO genomes (run_id, id, schema_version, codec_version, codec, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			codec = excluded.codec,
			payload = excluded.payload
	`, runID, genome.ID, genome.SchemaVersion, genome.CodecVersion, s.codec.Name(), payload)
	return err
}

func (s *SQLiteStore) GetGenome(ctx context.Context, runID, id string) (model.Genome, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Genome{}, false, err
	}

	codec, payload, ok, err := loadPayload(ctx, db, `SELECT codec, payload FROM genomes WHERE run_id = ? AND id = ?`, runID, id)
	if err != nil || !ok {
		return model.Genome{}, ok, err
	}

	genome, err := DecodeGenomeWith(codec, payload)
	if err != nil {
		return model.Genome{}, false, fmt.Errorf("decode genome %s: %w", id, err)
	}
	return genome, true, nil
}

func (s *SQLiteStore) SavePopulation(ctx context.Context, population model.Population) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := s.codec.Marshal(population)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO populations (id, generation, schema_version, codec_version, codec, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			generation = excluded.generation,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			codec = excluded.codec,
			payload = excluded.payload
	`, population.ID, population.Generation, population.SchemaVersion, population.CodecVersion, s.codec.Name(), payload)
	return err
}

func (s *SQLiteStore) GetPopulation(ctx context.Context, id string) (model.Population, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Population{}, false, err
	}

	codec, payload, ok, err := loadPayload(ctx, db, `SELECT codec, payload FROM populations WHERE id = ?`, id)
	if err != nil || !ok {
		return model.Population{}, ok, err
	}

	population, err := DecodePopulationWith(codec, payload)
	if err != nil {
		return model.Population{}, false, fmt.Errorf("decode population %s: %w", id, err)
	}
	return population, true, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	run.CreatedAt = normalizeTime(run.CreatedAt)
	payload, err := s.codec.Marshal(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at, fitness, generations, best_genome_id, best_fitness, codec, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at = excluded.created_at,
			fitness = excluded.fitness,
			generations = excluded.generations,
			best_genome_id = excluded.best_genome_id,
			best_fitness = excluded.best_fitness,
			codec = excluded.codec,
			payload = excluded.payload
	`, run.RunID, run.CreatedAt.UnixNano(), run.Fitness, len(run.Summaries), run.Best.ID, run.BestFitness, s.codec.Name(), payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunRecord{}, false, err
	}

	codec, payload, ok, err := loadPayload(ctx, db, `SELECT codec, payload FROM runs WHERE run_id = ?`, runID)
	if err != nil || !ok {
		return model.RunRecord{}, ok, err
	}

	run, err := DecodeRunWith(codec, payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT run_id, created_at, fitness, generations, best_genome_id, best_fitness
		FROM runs
		ORDER BY created_at, run_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			info      RunInfo
			createdAt int64
		)
		if err := rows.Scan(&info.RunID, &createdAt, &info.Fitness, &info.Generations, &info.BestGenomeID, &info.BestFitness); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := s.codec.Marshal(lineage)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO lineage (run_id, codec, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			codec = excluded.codec,
			payload = excluded.payload
	`, runID, s.codec.Name(), payload)
	return err
}

func (s *SQLiteStore) GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	codec, payload, ok, err := loadPayload(ctx, db, `SELECT codec, payload FROM lineage WHERE run_id = ?`, runID)
	if err != nil || !ok {
		return nil, ok, err
	}

	lineage, err := DecodeLineageWith(codec, payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode lineage %s: %w", runID, err)
	}
	return lineage, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func loadPayload(ctx context.Context, db *sql.DB, query string, args ...any) (Codec, []byte, bool, error) {
	var (
		codecName string
		payload   []byte
	)
	err := db.QueryRowContext(ctx, query, args...).Scan(&codecName, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	codec, err := CodecByName(codecName)
	if err != nil {
		return nil, nil, false, err
	}
	return codec, payload, true, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS genomes (
			run_id TEXT NOT NULL,
			id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			codec TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, id)
		);
		CREATE TABLE IF NOT EXISTS populations (
			id TEXT PRIMARY KEY,
			generation INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			codec TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			fitness TEXT NOT NULL,
			generations INTEGER NOT NULL,
			best_genome_id TEXT NOT NULL,
			best_fitness REAL NOT NULL,
			codec TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS lineage (
			run_id TEXT PRIMARY KEY,
			codec TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
