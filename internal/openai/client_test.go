package openai

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAPI is a mock implementation of the API interface
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.EmbeddingResponse), args.Error(1)
}

func (m *MockAPI) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.AudioResponse), args.Error(1)
}

func (m *MockAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

func testClient(api API) *Client {
	return &Client{
		api:                api,
		embeddingModel:     DefaultEmbeddingModel,
		dimensions:         3,
		chatModel:          DefaultChatModel,
		transcriptionModel: DefaultTranscriptionModel,
	}
}

func TestEmbedTexts_IndexAlignment(t *testing.T) {
	api := new(MockAPI)
	// The API may return data out of order; alignment follows Index.
	api.On("CreateEmbeddings", mock.Anything, mock.Anything).Return(openai.EmbeddingResponse{
		Data: []openai.Embedding{
			{Index: 1, Embedding: []float32{0.4, 0.5, 0.6}},
			{Index: 0, Embedding: []float32{0.1, 0.2, 0.3}},
		},
	}, nil)

	vectors, err := testClient(api).EmbedTexts(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, vectors[1])
}

func TestEmbedTexts_EmptyInput(t *testing.T) {
	api := new(MockAPI)

	_, err := testClient(api).EmbedTexts(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	api.AssertNotCalled(t, "CreateEmbeddings", mock.Anything, mock.Anything)
}

func TestEmbedTexts_WrongDimensions(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateEmbeddings", mock.Anything, mock.Anything).Return(openai.EmbeddingResponse{
		Data: []openai.Embedding{
			{Index: 0, Embedding: []float32{0.1, 0.2}},
		},
	}, nil)

	_, err := testClient(api).EmbedTexts(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrWrongDimensions)
}

func TestEmbedTexts_CountMismatch(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateEmbeddings", mock.Anything, mock.Anything).Return(openai.EmbeddingResponse{
		Data: []openai.Embedding{
			{Index: 0, Embedding: []float32{0.1, 0.2, 0.3}},
		},
	}, nil)

	_, err := testClient(api).EmbedTexts(context.Background(), []string{"one", "two"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2 embeddings")
}

func TestEmbedTexts_APIError(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateEmbeddings", mock.Anything, mock.Anything).
		Return(openai.EmbeddingResponse{}, errors.New("rate limited"))

	_, err := testClient(api).EmbedTexts(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestTranscribe(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateTranscription", mock.Anything, mock.MatchedBy(func(req openai.AudioRequest) bool {
		return req.FilePath == "memo.mp3" && req.Reader != nil && req.Model == DefaultTranscriptionModel
	})).Return(openai.AudioResponse{Text: "hello from the memo"}, nil)

	text, err := testClient(api).Transcribe(context.Background(), strings.NewReader("audio-bytes"), "memo.mp3")
	require.NoError(t, err)
	assert.Equal(t, "hello from the memo", text)
}

func TestComplete(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return len(req.Messages) == 2 &&
			req.Messages[0].Role == openai.ChatMessageRoleSystem &&
			req.Messages[1].Content == "question"
	})).Return(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "answer"}},
		},
	}, nil)

	text, err := testClient(api).Complete(context.Background(), "system", "question")
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
}

func TestComplete_NoChoices(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, nil)

	_, err := testClient(api).Complete(context.Background(), "system", "question")
	assert.Error(t, err)
}

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(Config{APIKey: "sk-test"})
	assert.Equal(t, DefaultEmbeddingModel, c.embeddingModel)
	assert.Equal(t, DefaultEmbeddingDimensions, c.dimensions)
	assert.Equal(t, DefaultChatModel, c.chatModel)
	assert.Equal(t, DefaultTranscriptionModel, c.transcriptionModel)
}
