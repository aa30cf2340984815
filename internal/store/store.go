// File: internal/store/store.go

// Package store persists run results and the model response cache to
// PostgreSQL. The store is an optional collaborator: when no database is
// configured the engine runs entirely in memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/respcache"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for
// mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL persistence layer.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// schemaDDL creates the two tables the engine persists into. Statements are
// idempotent so Migrate can run on every start.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS llm_cache (
        prompt_hash TEXT PRIMARY KEY,
        model_id    TEXT NOT NULL,
        response    JSONB NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS resolutions (
        run_id        TEXT NOT NULL,
        incident_key  TEXT NOT NULL,
        status        TEXT NOT NULL,
        accepted_diff TEXT,
        attempts      JSONB NOT NULL,
        updated_at    TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (run_id, incident_key)
    );`,
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	s.log.Info("Database schema is up to date")
	return nil
}

const sqlInsertCacheEntry = `
        INSERT INTO llm_cache (prompt_hash, model_id, response, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (prompt_hash) DO NOTHING;
    `

// SaveResponses writes cache entries in one transactional batch. Existing
// rows are left untouched: cache entries are immutable, so a conflicting
// insert is simply dropped in favor of the first write.
func (s *Store) SaveResponses(ctx context.Context, entries []respcache.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batch := &pgx.Batch{}
	for _, entry := range entries {
		raw, err := json.Marshal(entry.Response)
		if err != nil {
			return fmt.Errorf("encoding cached response %s: %w", entry.Key, err)
		}
		createdAt := entry.Response.CreatedAt.UTC()
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		batch.Queue(sqlInsertCacheEntry, entry.Key, entry.Response.ModelID, raw, createdAt)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	for i := range entries {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert cache entry %s: %w", entries[i].Key, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Persisted cache entries", zap.Int("count", len(entries)))
	return nil
}

// PreloadResponses loads every persisted cache row into the in-memory cache.
// A row conflicting with an already-loaded entry surfaces as a
// CacheConsistencyError from Put.
func (s *Store) PreloadResponses(ctx context.Context, cache *respcache.Cache) (int, error) {
	rows, err := s.pool.Query(ctx, `SELECT prompt_hash, response FROM llm_cache;`)
	if err != nil {
		return 0, fmt.Errorf("failed to query llm_cache: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return count, fmt.Errorf("failed to scan cache row: %w", err)
		}
		var resp schemas.ModelResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return count, fmt.Errorf("decoding cached response %s: %w", key, err)
		}
		if err := cache.Put(key, &resp); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("error during row iteration: %w", err)
	}

	s.log.Info("Preloaded cache entries from database", zap.Int("count", count))
	return count, nil
}

// PersistRun bulk-inserts every resolution of a finished run.
func (s *Store) PersistRun(ctx context.Context, runID string, resolutions []*schemas.Resolution) error {
	if len(resolutions) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(resolutions))
	for i, res := range resolutions {
		attempts, err := json.Marshal(res.Attempts)
		if err != nil {
			return fmt.Errorf("encoding attempts for %s: %w", res.Incident.Key(), err)
		}

		var acceptedDiff interface{}
		if res.Patch != nil {
			acceptedDiff = res.Patch.UnifiedDiff
		}

		rows[i] = []interface{}{
			runID,
			res.Incident.Key().String(),
			string(res.Status),
			acceptedDiff,
			attempts,
			res.UpdatedAt.UTC(),
		}
	}

	copyCount, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"resolutions"},
		[]string{"run_id", "incident_key", "status", "accepted_diff", "attempts", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy resolutions: %w", err)
	}
	if int(copyCount) != len(resolutions) {
		return fmt.Errorf("mismatch in copied resolutions count: expected %d, got %d", len(resolutions), copyCount)
	}

	s.log.Info("Persisted run", zap.String("run_id", runID), zap.Int("resolutions", len(resolutions)))
	return nil
}

// RunStatuses returns the terminal status per incident key for one run.
func (s *Store) RunStatuses(ctx context.Context, runID string) (map[string]schemas.ResolutionStatus, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT incident_key, status
        FROM resolutions
        WHERE run_id = $1
        ORDER BY incident_key ASC;
    `, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolutions: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]schemas.ResolutionStatus)
	for rows.Next() {
		var key, status string
		if err := rows.Scan(&key, &status); err != nil {
			return nil, fmt.Errorf("failed to scan resolution row: %w", err)
		}
		statuses[key] = schemas.ResolutionStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return statuses, nil
}
