package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pensieve-ai/pensieve/internal/api"
	"github.com/pensieve-ai/pensieve/internal/api/middleware"
	"github.com/pensieve-ai/pensieve/internal/service"
)

// Answerer answers questions over the owner's corpus.
type Answerer interface {
	Ask(ctx context.Context, input service.AnswerInput) (*service.Answer, error)
}

// Retriever runs hybrid retrieval without synthesis.
type Retriever interface {
	Retrieve(ctx context.Context, q service.SearchQuery) ([]service.Evidence, error)
}

// AskHandler serves question answering and raw retrieval.
type AskHandler struct {
	answerer  Answerer
	retriever Retriever
}

func NewAskHandler(answerer Answerer, retriever Retriever) *AskHandler {
	return &AskHandler{answerer: answerer, retriever: retriever}
}

type AskRequest struct {
	Question  string   `json:"question"`
	Limit     int      `json:"limit"`
	ItemIDs   []string `json:"item_ids"`
	TimeStart string   `json:"time_start"`
	TimeEnd   string   `json:"time_end"`
}

// Ask answers a question with citations.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.answerer.Ask(r.Context(), service.AnswerInput{
		OwnerID:   ownerID,
		Question:  strings.TrimSpace(req.Question),
		Limit:     req.Limit,
		ItemIDs:   req.ItemIDs,
		TimeStart: parseQueryTime(req.TimeStart),
		TimeEnd:   parseQueryTime(req.TimeEnd),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, answer)
}

// Search returns ranked evidence without answer synthesis.
func (h *AskHandler) Search(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	query := service.SearchQuery{
		OwnerID: ownerID,
		Query:   strings.TrimSpace(req.Question),
		Limit:   req.Limit,
		ItemIDs: req.ItemIDs,
	}
	if ts := parseQueryTime(req.TimeStart); ts != nil {
		query.TimeStart = ts
	}
	if ts := parseQueryTime(req.TimeEnd); ts != nil {
		query.TimeEnd = ts
	}

	evidence, err := h.retriever.Retrieve(r.Context(), query)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, evidence)
}

func parseQueryTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}
