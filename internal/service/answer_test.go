package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockChatClient is a mock implementation of ChatClient
type MockChatClient struct {
	mock.Mock
}

func (m *MockChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

func answerRetrieval(search *MockSearchRepository) *RetrievalService {
	return NewRetrievalService(search, absentGateway(), RetrievalConfig{})
}

func TestAsk_NoEvidence(t *testing.T) {
	search := new(MockSearchRepository)
	search.On("LexicalCandidates", mock.Anything, mock.Anything).Return([]Candidate{}, nil)

	chat := new(MockChatClient)
	svc := NewAnswerService(answerRetrieval(search), chat)

	answer, err := svc.Ask(context.Background(), AnswerInput{OwnerID: "owner-1", Question: "what is this"})
	require.NoError(t, err)
	assert.Contains(t, answer.Text, "could not find")
	assert.Empty(t, answer.Evidence)
	chat.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestAsk_SynthesizesWithEvidence(t *testing.T) {
	search := new(MockSearchRepository)
	search.On("LexicalCandidates", mock.Anything, mock.Anything).Return([]Candidate{
		candidate("c1", "item-a", 0.9),
	}, nil)

	chat := new(MockChatClient)
	chat.On("Complete", mock.Anything, answerSystemPrompt, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "[1]") &&
			strings.Contains(prompt, "CITATION:") &&
			strings.Contains(prompt, "Question: what is this")
	})).Return("  The answer is in block one [1]. ", nil)

	svc := NewAnswerService(answerRetrieval(search), chat)

	answer, err := svc.Ask(context.Background(), AnswerInput{OwnerID: "owner-1", Question: "what is this"})
	require.NoError(t, err)
	assert.Equal(t, "The answer is in block one [1].", answer.Text)
	require.Len(t, answer.Evidence, 1)
	chat.AssertExpectations(t)
}

func TestAsk_AppliesTimeWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	search := new(MockSearchRepository)
	search.On("LexicalCandidates", mock.Anything, mock.MatchedBy(func(q SearchQuery) bool {
		return q.TimeStart != nil && q.TimeStart.Equal(start) &&
			q.TimeEnd != nil && q.TimeEnd.Equal(end)
	})).Return([]Candidate{}, nil)

	svc := NewAnswerService(answerRetrieval(search), nil)

	_, err := svc.Ask(context.Background(), AnswerInput{
		OwnerID:   "owner-1",
		Question:  "what shipped in march",
		TimeStart: &start,
		TimeEnd:   &end,
	})
	require.NoError(t, err)
	search.AssertExpectations(t)
}

func TestAsk_NilChatDegradesToEvidence(t *testing.T) {
	search := new(MockSearchRepository)
	search.On("LexicalCandidates", mock.Anything, mock.Anything).Return([]Candidate{
		candidate("c1", "item-a", 0.9),
	}, nil)

	svc := NewAnswerService(answerRetrieval(search), nil)

	answer, err := svc.Ask(context.Background(), AnswerInput{OwnerID: "owner-1", Question: "anything"})
	require.NoError(t, err)
	assert.Contains(t, answer.Text, "not configured")
	assert.Len(t, answer.Evidence, 1)
}

func TestAsk_SynthesisErrorDegradesToEvidence(t *testing.T) {
	search := new(MockSearchRepository)
	search.On("LexicalCandidates", mock.Anything, mock.Anything).Return([]Candidate{
		candidate("c1", "item-a", 0.9),
	}, nil)

	chat := new(MockChatClient)
	chat.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("rate limited"))

	svc := NewAnswerService(answerRetrieval(search), chat)

	answer, err := svc.Ask(context.Background(), AnswerInput{OwnerID: "owner-1", Question: "anything"})
	require.NoError(t, err)
	assert.Contains(t, answer.Text, "temporarily unavailable")
	assert.Len(t, answer.Evidence, 1)
}

func TestAsk_RetrievalErrorPropagates(t *testing.T) {
	search := new(MockSearchRepository)
	search.On("LexicalCandidates", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	svc := NewAnswerService(answerRetrieval(search), nil)

	_, err := svc.Ask(context.Background(), AnswerInput{OwnerID: "owner-1", Question: "anything"})
	assert.Error(t, err)
}

func TestBuildAnswerPrompt(t *testing.T) {
	prompt := buildAnswerPrompt("when was the meeting", []Evidence{
		{Text: "Meeting moved to Tuesday.", Citation: "Weekly Plan [note]"},
		{Text: "Agenda attached.", Citation: "Agenda (https://example.com/agenda)"},
	})

	assert.Contains(t, prompt, "[1] Meeting moved to Tuesday.\nCITATION: Weekly Plan [note]\n\n")
	assert.Contains(t, prompt, "[2] Agenda attached.\nCITATION: Agenda (https://example.com/agenda)\n\n")
	assert.Contains(t, prompt, "Question: when was the meeting")
}
