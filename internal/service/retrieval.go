package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/pensieve-ai/pensieve/internal/domain"
	"github.com/pensieve-ai/pensieve/internal/telemetry"
)

// Candidate is one chunk row returned by a candidate query, with its raw
// signal score (cosine similarity or lexical rank).
type Candidate struct {
	ChunkID   string
	ItemID    string
	ItemTitle string
	SourceURI string
	Kind      domain.SourceKind
	Text      string
	Pointer   domain.Pointer
	Score     float64
}

// SearchRepositoryInterface defines the candidate queries behind retrieval.
type SearchRepositoryInterface interface {
	SemanticCandidates(ctx context.Context, q SearchQuery, vector []float32) ([]Candidate, error)
	LexicalCandidates(ctx context.Context, q SearchQuery) ([]Candidate, error)
	FirstChunks(ctx context.Context, ownerID string, itemIDs []string, limit int) ([]Candidate, error)
}

// SearchQuery carries the owner scope and optional filters of one retrieval
// call.
type SearchQuery struct {
	OwnerID   string
	Query     string
	Limit     int
	ItemIDs   []string
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Evidence is one fused retrieval result.
type Evidence struct {
	ChunkID   string            `json:"chunk_id"`
	ItemID    string            `json:"item_id"`
	ItemTitle string            `json:"item_title"`
	Kind      domain.SourceKind `json:"kind"`
	Text      string            `json:"text"`
	Score     float64           `json:"score"`
	Citation  string            `json:"citation"`
}

// RetrievalConfig holds the fusion tunables.
type RetrievalConfig struct {
	SemanticWeight      float64
	LexicalWeight       float64
	MaxPerItem          int
	CandidateMultiplier int
}

// DefaultRetrievalConfig weights semantic similarity over lexical overlap.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		SemanticWeight:      0.6,
		LexicalWeight:       0.4,
		MaxPerItem:          3,
		CandidateMultiplier: 4,
	}
}

func (c RetrievalConfig) normalized() RetrievalConfig {
	if c.SemanticWeight <= 0 && c.LexicalWeight <= 0 {
		def := DefaultRetrievalConfig()
		c.SemanticWeight = def.SemanticWeight
		c.LexicalWeight = def.LexicalWeight
	}
	if c.MaxPerItem <= 0 {
		c.MaxPerItem = DefaultRetrievalConfig().MaxPerItem
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = DefaultRetrievalConfig().CandidateMultiplier
	}
	return c
}

// RetrievalService fuses vector and lexical candidates into a ranked,
// diversity-capped evidence list.
type RetrievalService struct {
	search     SearchRepositoryInterface
	embeddings *EmbeddingGateway
	cfg        RetrievalConfig
}

// NewRetrievalService creates a RetrievalService.
func NewRetrievalService(search SearchRepositoryInterface, embeddings *EmbeddingGateway, cfg RetrievalConfig) *RetrievalService {
	return &RetrievalService{search: search, embeddings: embeddings, cfg: cfg.normalized()}
}

// Retrieve runs hybrid retrieval for the query. When the query embedding is
// unavailable the semantic signal contributes nothing and lexical results
// carry the ranking alone. When both signals come back empty and the query
// is scoped to specific items, the first stored chunks of those items are
// returned in stored order with score 0.
func (s *RetrievalService) Retrieve(ctx context.Context, q SearchQuery) ([]Evidence, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		OwnerID:   q.OwnerID,
		Operation: "retrieve",
	})
	defer span.End()

	if q.Limit <= 0 {
		q.Limit = 8
	}
	candidateQ := q
	candidateQ.Limit = q.Limit * s.cfg.CandidateMultiplier

	var semantic []Candidate
	if vector := s.embeddings.EmbedQuery(ctx, q.Query); vector != nil {
		var err error
		semantic, err = s.search.SemanticCandidates(ctx, candidateQ, vector)
		if err != nil {
			return nil, fmt.Errorf("semantic candidates: %w", err)
		}
	} else {
		log.Printf("retrieve: query embedding unavailable, lexical-only ranking")
	}

	lexical, err := s.search.LexicalCandidates(ctx, candidateQ)
	if err != nil {
		return nil, fmt.Errorf("lexical candidates: %w", err)
	}

	if len(semantic) == 0 && len(lexical) == 0 {
		if len(q.ItemIDs) > 0 {
			return s.fallbackEvidence(ctx, q)
		}
		return []Evidence{}, nil
	}

	fused := fuseCandidates(semantic, lexical, s.cfg)
	fused = capPerItem(fused, s.cfg.MaxPerItem)
	if len(fused) > q.Limit {
		fused = fused[:q.Limit]
	}

	evidence := make([]Evidence, 0, len(fused))
	for _, c := range fused {
		evidence = append(evidence, toEvidence(c.Candidate, c.Score))
	}
	return evidence, nil
}

// fusedCandidate pairs a candidate with its fused score.
type fusedCandidate struct {
	Candidate Candidate
	Score     float64
}

// fuseCandidates normalizes each signal independently, merges by chunk in
// first-seen order (semantic list first), and scores each chunk by the
// weighted sum of its best normalized signal values.
func fuseCandidates(semantic, lexical []Candidate, cfg RetrievalConfig) []fusedCandidate {
	semNorm := minMaxNormalize(scoresOf(semantic))
	lexNorm := minMaxNormalize(scoresOf(lexical))

	type signals struct {
		candidate Candidate
		semantic  float64
		lexical   float64
	}

	order := make([]string, 0, len(semantic)+len(lexical))
	byChunk := make(map[string]*signals, len(semantic)+len(lexical))

	note := func(c Candidate, sem, lex float64) {
		entry, ok := byChunk[c.ChunkID]
		if !ok {
			entry = &signals{candidate: c}
			byChunk[c.ChunkID] = entry
			order = append(order, c.ChunkID)
		}
		if sem > entry.semantic {
			entry.semantic = sem
		}
		if lex > entry.lexical {
			entry.lexical = lex
		}
	}

	for i, c := range semantic {
		note(c, semNorm[i], 0)
	}
	for i, c := range lexical {
		note(c, 0, lexNorm[i])
	}

	fused := make([]fusedCandidate, 0, len(order))
	for _, id := range order {
		entry := byChunk[id]
		fused = append(fused, fusedCandidate{
			Candidate: entry.candidate,
			Score:     cfg.SemanticWeight*entry.semantic + cfg.LexicalWeight*entry.lexical,
		})
	}

	// Stable sort keeps first-seen order among equal scores, making the
	// ranking fully deterministic.
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}

// minMaxNormalize maps scores to [0, 1]. A zero range maps every score to
// 1.0 so a single-candidate signal still contributes its full weight.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	min, max := scores[0], scores[0]
	for _, v := range scores[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(scores))
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, v := range scores {
		out[i] = (v - min) / (max - min)
	}
	return out
}

func scoresOf(candidates []Candidate) []float64 {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Score
	}
	return scores
}

// capPerItem drops any chunk beyond the per-item allowance, preserving rank
// order, so one long item cannot crowd out the rest of the corpus.
func capPerItem(fused []fusedCandidate, maxPerItem int) []fusedCandidate {
	counts := make(map[string]int, len(fused))
	out := fused[:0:0]
	for _, f := range fused {
		if counts[f.Candidate.ItemID] >= maxPerItem {
			continue
		}
		counts[f.Candidate.ItemID]++
		out = append(out, f)
	}
	return out
}

// fallbackEvidence serves item-scoped queries whose signals both came back
// empty: the first stored chunks of the named items, in stored order, with
// zero scores so callers can tell ranked evidence from fallback context.
func (s *RetrievalService) fallbackEvidence(ctx context.Context, q SearchQuery) ([]Evidence, error) {
	chunks, err := s.search.FirstChunks(ctx, q.OwnerID, q.ItemIDs, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("fallback chunks: %w", err)
	}
	evidence := make([]Evidence, 0, len(chunks))
	for _, c := range chunks {
		evidence = append(evidence, toEvidence(c, 0))
	}
	return evidence, nil
}

func toEvidence(c Candidate, score float64) Evidence {
	return Evidence{
		ChunkID:   c.ChunkID,
		ItemID:    c.ItemID,
		ItemTitle: c.ItemTitle,
		Kind:      c.Kind,
		Text:      c.Text,
		Score:     score,
		Citation:  formatCitation(c),
	}
}

// formatCitation renders a human-readable citation per pointer type. The
// source locator is appended when the item has one.
func formatCitation(c Candidate) string {
	title := c.ItemTitle
	if title == "" {
		title = "Untitled"
	}
	if c.SourceURI != "" {
		switch c.Pointer.Type {
		case domain.PointerTypeAudioMS, domain.PointerTypePDFPage:
			title = fmt.Sprintf("%s (%s)", title, c.SourceURI)
		}
	}
	switch c.Pointer.Type {
	case domain.PointerTypeAudioMS:
		if c.Pointer.Start == "" && c.Pointer.End == "" {
			return fmt.Sprintf("%s [audio]", title)
		}
		return fmt.Sprintf("%s [audio %s-%sms]", title, c.Pointer.Start, c.Pointer.End)
	case domain.PointerTypePDFPage:
		return fmt.Sprintf("%s [pages %s-%s]", title, c.Pointer.Start, c.Pointer.End)
	case domain.PointerTypeNoteRange:
		return fmt.Sprintf("%s [note]", title)
	case domain.PointerTypeImageRef:
		return fmt.Sprintf("%s [image]", title)
	case domain.PointerTypeURL:
		if c.SourceURI != "" {
			return fmt.Sprintf("%s (%s)", title, c.SourceURI)
		}
		return title
	default:
		return title
	}
}
