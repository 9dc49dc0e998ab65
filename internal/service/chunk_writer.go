package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pensieve-ai/pensieve/internal/domain"
)

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// ChunkRepositoryInterface defines the persistence interface for chunks.
// Inserts are idempotent under the (item_id, chunk_index) key: re-running
// for the same item and index is a no-op, not an error.
type ChunkRepositoryInterface interface {
	InsertChunks(ctx context.Context, chunks []*domain.Chunk) error
}

// WriteChunksInput describes one batch of chunk texts to persist.
type WriteChunksInput struct {
	ItemID  string
	OwnerID string
	Texts   []string
	// Pointer is the descriptor template applied to every chunk in the batch.
	Pointer domain.Pointer
	// Vectors holds an optional per-chunk embedding; nil (or a nil entry)
	// stores a null embedding, which is a terminal, valid state.
	Vectors    [][]float32
	StartIndex int
	TimeStart  *time.Time
	TimeEnd    *time.Time
}

// ChunkWriter materializes chunk records with sequential indexes and
// content hashes.
type ChunkWriter struct {
	repo    ChunkRepositoryInterface
	uuidGen UUIDGenerator
}

// NewChunkWriter creates a ChunkWriter backed by the given repository.
func NewChunkWriter(repo ChunkRepositoryInterface) *ChunkWriter {
	return &ChunkWriter{repo: repo, uuidGen: &DefaultUUIDGenerator{}}
}

// NewChunkWriterWithUUIDGen creates a ChunkWriter with a custom UUID
// generator (for testing).
func NewChunkWriterWithUUIDGen(repo ChunkRepositoryInterface, uuidGen UUIDGenerator) *ChunkWriter {
	return &ChunkWriter{repo: repo, uuidGen: uuidGen}
}

// WriteChunks assigns chunk indexes starting at StartIndex in input order,
// computes content hashes, and persists the batch. It returns the next
// unused index so multi-batch passes (per-page PDF chunking) can continue
// the sequence.
func (w *ChunkWriter) WriteChunks(ctx context.Context, input WriteChunksInput) (int, error) {
	next := input.StartIndex
	if len(input.Texts) == 0 {
		return next, nil
	}

	now := time.Now().UTC()
	chunks := make([]*domain.Chunk, 0, len(input.Texts))
	for i, text := range input.Texts {
		var embedding []float32
		if i < len(input.Vectors) {
			embedding = input.Vectors[i]
		}
		chunks = append(chunks, &domain.Chunk{
			ID:        w.uuidGen.NewString(),
			OwnerID:   input.OwnerID,
			ItemID:    input.ItemID,
			Index:     next,
			Text:      text,
			Embedding: embedding,
			Hash:      domain.HashText(text),
			Pointer:   input.Pointer,
			TimeStart: input.TimeStart,
			TimeEnd:   input.TimeEnd,
			CreatedAt: now,
		})
		next++
	}

	if err := w.repo.InsertChunks(ctx, chunks); err != nil {
		return input.StartIndex, err
	}
	return next, nil
}
