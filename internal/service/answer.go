package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pensieve-ai/pensieve/internal/telemetry"
)

// ChatClient is the chat-completion capability used for grounded answers.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const answerSystemPrompt = `You are a personal knowledge assistant. Answer the question using ONLY the provided evidence blocks. Every claim must be supported by at least one evidence block; cite it inline as [n] using the block number. If the evidence does not contain the answer, say so plainly instead of guessing.`

// AnswerInput is one question against the owner's corpus.
type AnswerInput struct {
	OwnerID   string
	Question  string
	Limit     int
	ItemIDs   []string
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Answer is a synthesized response with the evidence it was grounded on.
type Answer struct {
	Text     string     `json:"text"`
	Evidence []Evidence `json:"evidence"`
}

// AnswerService retrieves evidence and synthesizes a cited answer.
type AnswerService struct {
	retrieval *RetrievalService
	chat      ChatClient
}

// NewAnswerService creates an AnswerService. Chat may be nil; answers then
// degrade to evidence-only responses.
func NewAnswerService(retrieval *RetrievalService, chat ChatClient) *AnswerService {
	return &AnswerService{retrieval: retrieval, chat: chat}
}

// Ask answers the question from the owner's corpus. Synthesis failures
// degrade to an evidence-only answer rather than erroring: retrieval
// results are useful on their own.
func (s *AnswerService) Ask(ctx context.Context, input AnswerInput) (*Answer, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnswerService.Ask", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		Operation: "ask",
	})
	defer span.End()

	evidence, err := s.retrieval.Retrieve(ctx, SearchQuery{
		OwnerID:   input.OwnerID,
		Query:     input.Question,
		Limit:     input.Limit,
		ItemIDs:   input.ItemIDs,
		TimeStart: input.TimeStart,
		TimeEnd:   input.TimeEnd,
	})
	if err != nil {
		return nil, err
	}

	if len(evidence) == 0 {
		return &Answer{
			Text:     "I could not find anything in your knowledge base relevant to that question.",
			Evidence: []Evidence{},
		}, nil
	}

	if s.chat == nil {
		return &Answer{
			Text:     "Answer synthesis is not configured; here is the most relevant evidence.",
			Evidence: evidence,
		}, nil
	}

	text, err := s.chat.Complete(ctx, answerSystemPrompt, buildAnswerPrompt(input.Question, evidence))
	if err != nil {
		log.Printf("ask: synthesis failed, returning evidence only: %v", err)
		telemetry.CaptureError(ctx, err)
		return &Answer{
			Text:     "Answer synthesis is temporarily unavailable; here is the most relevant evidence.",
			Evidence: evidence,
		}, nil
	}

	return &Answer{Text: strings.TrimSpace(text), Evidence: evidence}, nil
}

// buildAnswerPrompt renders numbered evidence blocks with citation lines,
// then the question.
func buildAnswerPrompt(question string, evidence []Evidence) string {
	var b strings.Builder
	b.WriteString("Evidence:\n\n")
	for i, ev := range evidence {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, ev.Text)
		fmt.Fprintf(&b, "CITATION: %s\n\n", ev.Citation)
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}
