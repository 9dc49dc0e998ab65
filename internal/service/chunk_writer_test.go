package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pensieve-ai/pensieve/internal/domain"
)

// MockChunkRepository is a mock implementation of ChunkRepositoryInterface
type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) InsertChunks(ctx context.Context, chunks []*domain.Chunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

type sequentialUUIDGenerator struct {
	n int
}

func (g *sequentialUUIDGenerator) NewString() string {
	g.n++
	return fmt.Sprintf("uuid-%d", g.n)
}

func TestChunkWriter_AssignsSequentialIndexes(t *testing.T) {
	repo := new(MockChunkRepository)
	var inserted []*domain.Chunk
	repo.On("InsertChunks", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).([]*domain.Chunk)
		}).
		Return(nil)

	writer := NewChunkWriterWithUUIDGen(repo, &sequentialUUIDGenerator{})
	next, err := writer.WriteChunks(context.Background(), WriteChunksInput{
		ItemID:  "item-1",
		OwnerID: "owner-1",
		Texts:   []string{"first", "second", "third"},
		Pointer: domain.Pointer{Type: domain.PointerTypeNoteRange, Start: "0", End: "0"},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, next)
	require.Len(t, inserted, 3)
	for i, c := range inserted {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "item-1", c.ItemID)
		assert.Equal(t, "owner-1", c.OwnerID)
		assert.Equal(t, domain.HashText(c.Text), c.Hash)
		assert.Equal(t, domain.PointerTypeNoteRange, c.Pointer.Type)
		assert.Nil(t, c.Embedding)
	}
	assert.Equal(t, "first", inserted[0].Text)
	assert.Equal(t, "third", inserted[2].Text)
}

func TestChunkWriter_ContinuesFromStartIndex(t *testing.T) {
	repo := new(MockChunkRepository)
	var inserted []*domain.Chunk
	repo.On("InsertChunks", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).([]*domain.Chunk)
		}).
		Return(nil)

	writer := NewChunkWriterWithUUIDGen(repo, &sequentialUUIDGenerator{})
	next, err := writer.WriteChunks(context.Background(), WriteChunksInput{
		ItemID:     "item-1",
		OwnerID:    "owner-1",
		Texts:      []string{"page two a", "page two b"},
		Pointer:    domain.Pointer{Type: domain.PointerTypePDFPage, Start: "2", End: "2"},
		StartIndex: 5,
	})

	require.NoError(t, err)
	assert.Equal(t, 7, next)
	assert.Equal(t, 5, inserted[0].Index)
	assert.Equal(t, 6, inserted[1].Index)
}

func TestChunkWriter_AttachesVectors(t *testing.T) {
	repo := new(MockChunkRepository)
	var inserted []*domain.Chunk
	repo.On("InsertChunks", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).([]*domain.Chunk)
		}).
		Return(nil)

	writer := NewChunkWriterWithUUIDGen(repo, &sequentialUUIDGenerator{})
	_, err := writer.WriteChunks(context.Background(), WriteChunksInput{
		ItemID:  "item-1",
		OwnerID: "owner-1",
		Texts:   []string{"embedded", "absent"},
		Pointer: domain.Pointer{Type: domain.PointerTypeImageRef, Start: "raw/key"},
		Vectors: [][]float32{{0.1, 0.2}, nil},
	})

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, inserted[0].Embedding)
	assert.Nil(t, inserted[1].Embedding)
}

func TestChunkWriter_EmptyBatchIsNoOp(t *testing.T) {
	repo := new(MockChunkRepository)

	writer := NewChunkWriter(repo)
	next, err := writer.WriteChunks(context.Background(), WriteChunksInput{
		ItemID:     "item-1",
		OwnerID:    "owner-1",
		StartIndex: 4,
	})

	require.NoError(t, err)
	assert.Equal(t, 4, next)
	repo.AssertNotCalled(t, "InsertChunks", mock.Anything, mock.Anything)
}

func TestChunkWriter_PropagatesRepositoryError(t *testing.T) {
	repo := new(MockChunkRepository)
	repo.On("InsertChunks", mock.Anything, mock.Anything).Return(errors.New("insert failed"))

	writer := NewChunkWriter(repo)
	next, err := writer.WriteChunks(context.Background(), WriteChunksInput{
		ItemID:  "item-1",
		OwnerID: "owner-1",
		Texts:   []string{"text"},
	})

	require.Error(t, err)
	assert.Equal(t, 0, next)
}
