package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*Index)(nil)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Config holds pgvector connection configuration
type Config struct {
	// URL is the PostgreSQL connection string
	URL string

	// Table is the collection table name
	Table string

	// Dimensions is the vector size the collection accepts
	Dimensions int
}

// Index implements driven.VectorIndex on PostgreSQL with the pgvector extension
type Index struct {
	db         *sql.DB
	table      string
	dimensions int
}

// NewIndex opens a pgx connection pool. Call EnsureCollection before use.
func NewIndex(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: pgvector url is required", domain.ErrInvalidConfig)
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", domain.ErrInvalidConfig, cfg.Table)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", domain.ErrInvalidConfig, cfg.Dimensions)
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", domain.ErrIndexUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", domain.ErrIndexUnavailable, err)
	}
	return &Index{db: db, table: cfg.Table, dimensions: cfg.Dimensions}, nil
}

// EnsureCollection creates the extension, table and HNSW index if missing.
// An existing table with a different vector size is rejected.
func (x *Index) EnsureCollection(ctx context.Context) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, x.table, x.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)`, x.table, x.table),
	}
	for _, m := range migrations {
		if _, err := x.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("%w: migrate: %v", domain.ErrIndexUnavailable, err)
		}
	}

	// vector(n) stores n as the column's type modifier
	var size int
	err := x.db.QueryRowContext(ctx, `
		SELECT a.atttypmod FROM pg_attribute a
		WHERE a.attrelid = $1::regclass AND a.attname = 'embedding'
	`, x.table).Scan(&size)
	if err != nil {
		return fmt.Errorf("%w: inspect table: %v", domain.ErrIndexUnavailable, err)
	}
	if size > 0 && size != x.dimensions {
		return fmt.Errorf("%w: table %s has %d dimensions, configured %d",
			domain.ErrDimensionMismatch, x.table, size, x.dimensions)
	}
	return nil
}

// Upsert writes all entries in one transaction
func (x *Index) Upsert(ctx context.Context, entries []*domain.IndexEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	for i, e := range entries {
		if len(e.Vector) != x.dimensions {
			return nil, fmt.Errorf("%w: entry %d has %d dimensions, collection expects %d",
				domain.ErrDimensionMismatch, i, len(e.Vector), x.dimensions)
		}
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", domain.ErrIndexUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3::vector, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata
	`, x.table))
	if err != nil {
		return nil, fmt.Errorf("%w: prepare: %v", domain.ErrIndexUnavailable, err)
	}
	defer stmt.Close()

	ids := make([]string, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		meta, err := json.Marshal(nonNil(e.Metadata))
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Content, formatVector(e.Vector), string(meta)); err != nil {
			return nil, fmt.Errorf("%w: upsert %s: %v", domain.ErrIndexUnavailable, e.ID, err)
		}
		ids[i] = e.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", domain.ErrIndexUnavailable, err)
	}
	return ids, nil
}

// Query orders by cosine distance; the score is 1 - distance
func (x *Index) Query(ctx context.Context, vector []float32, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidConfig, k)
	}
	if len(vector) != x.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			domain.ErrDimensionMismatch, len(vector), x.dimensions)
	}

	rows, err := x.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector, id
		LIMIT $2
	`, x.table), formatVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	result := domain.RetrievalResult{}
	for rows.Next() {
		var doc domain.RetrievedDocument
		var meta []byte
		if err := rows.Scan(&doc.ID, &doc.Content, &meta, &doc.Score); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrIndexUnavailable, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", doc.ID, err)
			}
		}
		doc.SourceRef = doc.Metadata[domain.MetaSourceRef]
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	result.SortBySimilarity()
	return result, nil
}

// Count returns the number of stored entries
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, x.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrIndexUnavailable, err)
	}
	return n, nil
}

// Dimensions returns the vector size the collection accepts
func (x *Index) Dimensions() int { return x.dimensions }

// Metric returns the collection's distance metric
func (x *Index) Metric() domain.DistanceMetric { return domain.MetricCosine }

// HealthCheck pings the database
func (x *Index) HealthCheck(ctx context.Context) error {
	if err := x.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	return nil
}

// Close closes the connection pool
func (x *Index) Close() error {
	return x.db.Close()
}

// formatVector renders the pgvector text form: "[0.1,0.2,0.3]"
func formatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
