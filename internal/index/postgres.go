package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// PgxPool is the subset of *pgxpool.Pool the Postgres index uses. Consumer
// side interface, satisfied by both *pgxpool.Pool and pgx.Tx.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgvector-backed VectorIndex for corpora that outgrow the
// in-process index. Ordering, tie-breaking and min-score semantics match the
// memory backend exactly.
//
// Postgres is safe for concurrent use; the pool handles connection
// concurrency and DELETE is transactional, so searches observe either all of
// a document's rows or none.
type Postgres struct {
	pool   PgxPool
	dim    int
	metric Metric
	logger *slog.Logger
}

// NewPostgres creates a pgvector-backed index over an existing pool. The
// chunk_vectors table is created by db migrations; its vector dimension must
// match dim.
func NewPostgres(pool PgxPool, dim int, metric Metric, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, dim: dim, metric: metric, logger: logger}
}

// Insert upserts entries by chunk ID.
func (p *Postgres) Insert(ctx context.Context, entries ...Entry) error {
	for _, e := range entries {
		if err := checkDimension(p.dim, e.Vector); err != nil {
			return err
		}
	}

	const upsertSQL = `INSERT INTO chunk_vectors (chunk_id, document_id, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (chunk_id) DO UPDATE
		SET document_id = EXCLUDED.document_id, embedding = EXCLUDED.embedding`

	for _, e := range entries {
		vec := pgvector.NewVector(e.Vector)
		if _, err := p.pool.Exec(ctx, upsertSQL, e.ChunkID, e.DocumentID, &vec); err != nil {
			return fmt.Errorf("upserting chunk %q: %w", e.ChunkID, err)
		}
	}
	return nil
}

// DeleteByDocument removes all rows for the document in one statement.
func (p *Postgres) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document %q: %w", documentID, err)
	}
	removed := int(tag.RowsAffected())
	if removed > 0 {
		p.logger.Debug("deleted document vectors", "document_id", documentID, "removed", removed)
	}
	return removed, nil
}

// Search runs the similarity query with deterministic ordering.
func (p *Postgres) Search(ctx context.Context, vector []float32, k int, minScore float64) ([]Match, error) {
	if err := checkDimension(p.dim, vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	// pgvector: <=> is cosine distance, <#> is negative inner product.
	var scoreExpr string
	switch p.metric {
	case MetricDot:
		scoreExpr = `-(embedding <#> $1)`
	default:
		scoreExpr = `1 - (embedding <=> $1)`
	}

	searchSQL := fmt.Sprintf(`SELECT chunk_id, document_id, %s AS score
		FROM chunk_vectors
		WHERE %s >= $2
		ORDER BY score DESC, chunk_id ASC
		LIMIT $3`, scoreExpr, scoreExpr)

	vec := pgvector.NewVector(vector)
	rows, err := p.pool.Query(ctx, searchSQL, &vec, minScore, k)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

// Len returns the number of indexed rows.
func (p *Postgres) Len(ctx context.Context) (int, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM chunk_vectors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return int(count), nil
}

// Close releases the index. The pool is owned by the caller.
func (*Postgres) Close() error { return nil }
