package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/pensieve-ai/pensieve/internal/domain"
	"github.com/pensieve-ai/pensieve/internal/service"
)

// ChunkRepository handles persistence and retrieval of item chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// InsertChunks writes chunks one by one. The unique (item_id, chunk_index)
// key plus ON CONFLICT DO NOTHING makes retried passes idempotent: a chunk
// position already written keeps its first contents.
func (r *ChunkRepository) InsertChunks(ctx context.Context, chunks []*domain.Chunk) error {
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		// A chunk without a vector stores NULL; absence is a terminal
		// state, not a pending one.
		var embedding any
		if c.Embedding != nil {
			embedding = pgvector.NewVector(c.Embedding)
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO chunks
				(id, owner_id, item_id, chunk_index, text, embedding, hash, pointer_type, pointer_start, pointer_end, time_start, time_end, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (item_id, chunk_index) DO NOTHING`,
			c.ID, c.OwnerID, c.ItemID, c.Index, c.Text, embedding, c.Hash,
			c.Pointer.Type, c.Pointer.Start, c.Pointer.End,
			c.TimeStart, c.TimeEnd, createdAt,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

const candidateColumns = `c.id, c.item_id, i.title, COALESCE(i.source_uri, ''), i.kind, c.text, c.pointer_type, c.pointer_start, c.pointer_end`

// SemanticCandidates returns the closest chunks by cosine similarity to the
// query vector. Chunks without embeddings never match this signal.
func (r *ChunkRepository) SemanticCandidates(ctx context.Context, q service.SearchQuery, vector []float32) ([]service.Candidate, error) {
	literal := service.VectorLiteral(vector)
	sql := `SELECT ` + candidateColumns + `,
			1 - (c.embedding <=> CAST($2 AS vector)) AS score
		FROM chunks c
		JOIN knowledge_items i ON i.id = c.item_id
		WHERE c.owner_id = $1 AND c.embedding IS NOT NULL AND i.status = $3`
	args := []any{q.OwnerID, literal, domain.ItemStatusReady}
	sql, args = appendFilters(sql, args, q)
	args = append(args, q.Limit)
	sql += fmt.Sprintf(` ORDER BY c.embedding <=> CAST($2 AS vector) LIMIT $%d`, len(args))

	return r.queryCandidates(ctx, sql, args)
}

// LexicalCandidates returns chunks matching the query by full-text search,
// ranked by ts_rank_cd.
func (r *ChunkRepository) LexicalCandidates(ctx context.Context, q service.SearchQuery) ([]service.Candidate, error) {
	sql := `SELECT ` + candidateColumns + `,
			ts_rank_cd(c.tsv, plainto_tsquery('english', $2)) AS score
		FROM chunks c
		JOIN knowledge_items i ON i.id = c.item_id
		WHERE c.owner_id = $1 AND c.tsv @@ plainto_tsquery('english', $2) AND i.status = $3`
	args := []any{q.OwnerID, q.Query, domain.ItemStatusReady}
	sql, args = appendFilters(sql, args, q)
	args = append(args, q.Limit)
	sql += fmt.Sprintf(` ORDER BY score DESC LIMIT $%d`, len(args))

	return r.queryCandidates(ctx, sql, args)
}

// FirstChunks returns the earliest stored chunks of the given items in
// stored order.
func (r *ChunkRepository) FirstChunks(ctx context.Context, ownerID string, itemIDs []string, limit int) ([]service.Candidate, error) {
	sql := `SELECT ` + candidateColumns + `, 0 AS score
		FROM chunks c
		JOIN knowledge_items i ON i.id = c.item_id
		WHERE c.owner_id = $1 AND c.item_id = ANY($2)
		ORDER BY c.item_id, c.chunk_index
		LIMIT $3`
	return r.queryCandidates(ctx, sql, []any{ownerID, itemIDs, limit})
}

// appendFilters adds the optional item and time filters shared by both
// candidate queries. The time window applies only when both bounds are
// supplied. A chunk passes on its own bounds when present, otherwise on the
// owning item's source time; when neither exists the COALESCE comparison is
// NULL and the row is excluded.
func appendFilters(sql string, args []any, q service.SearchQuery) (string, []any) {
	if len(q.ItemIDs) > 0 {
		args = append(args, q.ItemIDs)
		sql += fmt.Sprintf(` AND c.item_id = ANY($%d)`, len(args))
	}
	if q.TimeStart != nil && q.TimeEnd != nil {
		args = append(args, q.TimeStart.UTC())
		sql += fmt.Sprintf(` AND COALESCE(c.time_end, c.time_start, i.source_time) >= $%d`, len(args))
		args = append(args, q.TimeEnd.UTC())
		sql += fmt.Sprintf(` AND COALESCE(c.time_start, i.source_time) <= $%d`, len(args))
	}
	return sql, args
}

func (r *ChunkRepository) queryCandidates(ctx context.Context, sql string, args []any) ([]service.Candidate, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []service.Candidate
	for rows.Next() {
		var c service.Candidate
		if err := rows.Scan(&c.ChunkID, &c.ItemID, &c.ItemTitle, &c.SourceURI, &c.Kind,
			&c.Text, &c.Pointer.Type, &c.Pointer.Start, &c.Pointer.End, &c.Score); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// CountByItem reports how many chunks an item has.
func (r *ChunkRepository) CountByItem(ctx context.Context, itemID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE item_id = $1`, itemID).Scan(&count)
	return count, err
}
