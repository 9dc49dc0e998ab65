package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEmbeddingProvider is a mock implementation of EmbeddingProvider
type MockEmbeddingProvider struct {
	mock.Mock
}

func (m *MockEmbeddingProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func TestEmbeddingGateway_NilProviderReturnsAbsent(t *testing.T) {
	gateway := NewEmbeddingGateway(nil)

	vectors := gateway.EmbedTexts(context.Background(), []string{"a", "b", "c"})

	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Nil(t, v)
	}
}

func TestEmbeddingGateway_ProviderErrorReturnsAbsent(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("EmbedTexts", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

	gateway := NewEmbeddingGateway(provider)
	vectors := gateway.EmbedTexts(context.Background(), []string{"a", "b"})

	require.Len(t, vectors, 2)
	assert.Nil(t, vectors[0])
	assert.Nil(t, vectors[1])
	provider.AssertExpectations(t)
}

func TestEmbeddingGateway_LengthMismatchReturnsAbsent(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("EmbedTexts", mock.Anything, mock.Anything).Return([][]float32{{0.1}}, nil)

	gateway := NewEmbeddingGateway(provider)
	vectors := gateway.EmbedTexts(context.Background(), []string{"a", "b"})

	require.Len(t, vectors, 2)
	assert.Nil(t, vectors[0])
	assert.Nil(t, vectors[1])
}

func TestEmbeddingGateway_Success(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	expected := [][]float32{{0.1, 0.2}, {0.3, 0.4}}
	provider.On("EmbedTexts", mock.Anything, []string{"a", "b"}).Return(expected, nil)

	gateway := NewEmbeddingGateway(provider)
	vectors := gateway.EmbedTexts(context.Background(), []string{"a", "b"})

	assert.Equal(t, expected, vectors)
}

func TestEmbeddingGateway_BoundedWaitReturnsAbsent(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("EmbedTexts", mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		})

	gateway := NewEmbeddingGatewayWithWait(provider, 20*time.Millisecond)
	vectors := gateway.EmbedTexts(context.Background(), []string{"slow"})

	require.Len(t, vectors, 1)
	assert.Nil(t, vectors[0])
}

func TestEmbeddingGateway_EmbedQuery(t *testing.T) {
	provider := new(MockEmbeddingProvider)
	provider.On("EmbedTexts", mock.Anything, []string{"question"}).
		Return([][]float32{{0.5, 0.6}}, nil)

	gateway := NewEmbeddingGateway(provider)

	assert.Equal(t, []float32{0.5, 0.6}, gateway.EmbedQuery(context.Background(), "question"))
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", VectorLiteral(nil))
	assert.Equal(t, "[0.10000000]", VectorLiteral([]float32{0.1}))
	assert.Equal(t, "[1.00000000,-0.50000000]", VectorLiteral([]float32{1, -0.5}))
}
