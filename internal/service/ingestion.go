package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pensieve-ai/pensieve/internal/domain"
	"github.com/pensieve-ai/pensieve/internal/telemetry"
)

// ExtractResult is the outcome of an external Extractor call.
type ExtractResult struct {
	Title    string
	Text     string
	Metadata domain.Metadata
	// Pages holds per-page texts for paginated sources (PDF). An empty
	// entry means the page produced no text.
	Pages []string
	// SourceTime is the content creation time when the extractor can
	// determine one.
	SourceTime *time.Time
}

// Extractor obtains title, full text, and source-specific metadata for one
// source kind. Failure handling policy is source-kind-specific: fatal for
// AUDIO/DOCUMENT passes, degraded for WEB.
type Extractor interface {
	Extract(ctx context.Context, locator string) (*ExtractResult, error)
}

// Transcriber is the external speech-to-text capability used by the AUDIO
// pass.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// BlobStore persists raw uploads and derived text objects.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Size(ctx context.Context, key string) (int64, error)
}

// ItemRepositoryInterface defines the persistence interface for knowledge
// items. Status transitions are monotonic: MarkProcessing claims only
// non-terminal items, and terminal statuses are absorbing.
type ItemRepositoryInterface interface {
	Create(ctx context.Context, item *domain.KnowledgeItem) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkReady(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	UpdateExtraction(ctx context.Context, id, title, sourceURI, derivedTextKey string) error
	MergeMetadata(ctx context.Context, id string, patch domain.Metadata) error
	SetSourceTime(ctx context.Context, id string, sourceTime time.Time) error
}

// PassBudget carries the two time budgets of one ingestion pass: a soft
// budget after which the pass winds down gracefully where a degraded path
// exists, and a hard budget after which it is forcibly cancelled.
type PassBudget struct {
	Soft time.Duration
	Hard time.Duration
}

// IngestionConfig holds the tunables of the ingestion state machine.
type IngestionConfig struct {
	WebBudget      PassBudget
	AudioBudget    PassBudget
	DocumentBudget PassBudget

	MaxUploadBytes     int64
	MaxTranscriptChars int

	WebChunkCap      int
	AudioChunkCap    int
	DocumentChunkCap int

	Chunking ChunkConfig
}

// DefaultIngestionConfig provides the default budgets and caps.
func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		WebBudget:          PassBudget{Soft: 50 * time.Second, Hard: 60 * time.Second},
		AudioBudget:        PassBudget{Soft: 180 * time.Second, Hard: 210 * time.Second},
		DocumentBudget:     PassBudget{Soft: 120 * time.Second, Hard: 150 * time.Second},
		MaxUploadBytes:     25 * 1024 * 1024,
		MaxTranscriptChars: 60000,
		WebChunkCap:        50,
		AudioChunkCap:      50,
		DocumentChunkCap:   80,
		Chunking:           DefaultChunkConfig(),
	}
}

// SubmitInput identifies one ingestion pass. Image description and tags are
// caller-supplied because IMAGE has no extractor of its own.
type SubmitInput struct {
	ItemID      string
	OwnerID     string
	Kind        domain.SourceKind
	Description string
	Tags        []string
}

// passFailure is a fatal pass error carrying the short machine-usable
// reason recorded on the FAILED item.
type passFailure struct {
	reason string
	err    error
}

func (e *passFailure) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.reason, e.err)
	}
	return e.reason
}

func (e *passFailure) Unwrap() error { return e.err }

func failPass(reason string) error { return &passFailure{reason: reason} }

// IngestionService drives one ingestion pass per knowledge item: extract,
// chunk, optionally embed, persist, and settle the item status.
type IngestionService struct {
	items       ItemRepositoryInterface
	writer      *ChunkWriter
	embeddings  *EmbeddingGateway
	extractors  map[domain.SourceKind]Extractor
	transcriber Transcriber
	blobs       BlobStore
	cfg         IngestionConfig
}

// NewIngestionService creates an IngestionService. Transcriber and blobs
// may be nil; the passes that need them fail with a descriptive reason.
func NewIngestionService(
	items ItemRepositoryInterface,
	writer *ChunkWriter,
	embeddings *EmbeddingGateway,
	extractors map[domain.SourceKind]Extractor,
	transcriber Transcriber,
	blobs BlobStore,
	cfg IngestionConfig,
) *IngestionService {
	if extractors == nil {
		extractors = map[domain.SourceKind]Extractor{}
	}
	return &IngestionService{
		items:       items,
		writer:      writer,
		embeddings:  embeddings,
		extractors:  extractors,
		transcriber: transcriber,
		blobs:       blobs,
		cfg:         cfg,
	}
}

// ProcessItem runs one full ingestion pass for the item. All fatal
// conditions are caught here and translated into a FAILED status; no error
// crosses the pass boundary.
func (s *IngestionService) ProcessItem(ctx context.Context, input SubmitInput) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.ProcessItem", telemetry.SpanAttributes{
		ItemID:    input.ItemID,
		OwnerID:   input.OwnerID,
		Operation: "ingest_" + strings.ToLower(string(input.Kind)),
	})
	defer span.End()

	claimed, err := s.items.MarkProcessing(ctx, input.ItemID)
	if err != nil {
		log.Printf("ingest %s: failed to claim item: %v", input.ItemID, err)
		return
	}
	if !claimed {
		// Terminal items are never reprocessed; re-ingestion creates a
		// new item.
		log.Printf("ingest %s: item not claimable, skipping pass", input.ItemID)
		return
	}

	budget := s.budgetFor(input.Kind)
	cancel := func() {}
	if budget.Hard > 0 {
		ctx, cancel = context.WithTimeout(ctx, budget.Hard)
	}
	defer cancel()

	passErr := s.runPass(ctx, budget, input)

	// Status writes must survive a pass that burned its whole budget.
	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer settleCancel()

	if passErr != nil {
		reason := failureReason(input.Kind, passErr)
		telemetry.CaptureError(ctx, passErr)
		if err := s.items.MarkFailed(settleCtx, input.ItemID, reason); err != nil {
			log.Printf("ingest %s: failed to record failure %q: %v", input.ItemID, reason, err)
		}
		log.Printf("ingest %s: pass failed: %s", input.ItemID, reason)
		return
	}

	if err := s.items.MarkReady(settleCtx, input.ItemID); err != nil {
		log.Printf("ingest %s: failed to mark ready: %v", input.ItemID, err)
		return
	}
	log.Printf("ingest %s: pass complete", input.ItemID)
}

func (s *IngestionService) runPass(ctx context.Context, budget PassBudget, input SubmitInput) error {
	item, err := s.items.GetByID(ctx, input.ItemID)
	if err != nil {
		return err
	}

	var softDeadline time.Time
	if budget.Soft > 0 {
		softDeadline = time.Now().Add(budget.Soft)
	}

	switch input.Kind {
	case domain.SourceKindWeb:
		return s.processWeb(ctx, softDeadline, item)
	case domain.SourceKindAudio:
		return s.processAudio(ctx, softDeadline, item)
	case domain.SourceKindPDF:
		return s.processPDF(ctx, item)
	case domain.SourceKindMarkdown:
		return s.processMarkdown(ctx, item)
	case domain.SourceKindImage:
		return s.processImage(ctx, item, input.Description, input.Tags)
	default:
		return fmt.Errorf("unsupported source kind %q", input.Kind)
	}
}

// processWeb degrades to an empty-text pass on extractor failure instead of
// failing outright: the item still reaches READY with the error recorded in
// metadata.
func (s *IngestionService) processWeb(ctx context.Context, softDeadline time.Time, item *domain.KnowledgeItem) error {
	title := item.SourceURI
	text := ""
	meta := domain.Metadata{}
	var sourceTime *time.Time

	if ex, ok := s.extractors[domain.SourceKindWeb]; ok {
		extractCtx := ctx
		cancel := func() {}
		if !softDeadline.IsZero() {
			extractCtx, cancel = context.WithDeadline(ctx, softDeadline)
		}
		res, err := ex.Extract(extractCtx, item.SourceURI)
		cancel()
		switch {
		case err == nil:
			if res.Title != "" {
				title = res.Title
			}
			text = res.Text
			meta = meta.Merge(res.Metadata)
			sourceTime = res.SourceTime
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			meta["fetch_error"] = "soft_time_limit"
		default:
			meta["fetch_error"] = err.Error()
		}
	} else {
		meta["fetch_error"] = "web extractor not configured"
	}

	if u, err := url.Parse(item.SourceURI); err == nil && u.Host != "" {
		meta["domain"] = u.Host
	}

	derivedKey := ""
	if text != "" && s.blobs != nil {
		derivedKey = fmt.Sprintf("derived/%s_web.txt", item.ID)
		if err := s.blobs.Put(ctx, derivedKey, strings.NewReader(text), "text/plain; charset=utf-8"); err != nil {
			return fmt.Errorf("store derived text: %w", err)
		}
	}

	if err := s.items.UpdateExtraction(ctx, item.ID, title, item.SourceURI, derivedKey); err != nil {
		return err
	}
	if err := s.items.MergeMetadata(ctx, item.ID, meta); err != nil {
		return err
	}
	if sourceTime != nil {
		if err := s.items.SetSourceTime(ctx, item.ID, domain.ChooseSourceTime(item.SourceTime, sourceTime, nil)); err != nil {
			return err
		}
	}

	// Fixed-window chunking keeps the web path inside its latency budget.
	chunks := capChunks(SimpleChunks(text, s.cfg.Chunking.MaxChars), s.cfg.WebChunkCap)

	// Web chunks are written without embeddings so the path stays
	// independent of the embedding provider's availability.
	_, err := s.writer.WriteChunks(ctx, WriteChunksInput{
		ItemID:  item.ID,
		OwnerID: item.OwnerID,
		Texts:   chunks,
		Pointer: domain.Pointer{Type: domain.PointerTypeURL, Start: item.SourceURI},
	})
	return err
}

func (s *IngestionService) processAudio(ctx context.Context, softDeadline time.Time, item *domain.KnowledgeItem) error {
	if s.blobs == nil {
		return domain.ErrStorageNotConfigured
	}
	if s.transcriber == nil {
		return failPass("transcription_not_configured")
	}

	size, err := s.blobs.Size(ctx, item.RawObjectKey)
	if err != nil {
		return &passFailure{reason: domain.ReasonAudioMissing, err: err}
	}
	if size > s.cfg.MaxUploadBytes {
		return failPass(domain.ReasonAudioTooLarge)
	}

	audio, err := s.blobs.Get(ctx, item.RawObjectKey)
	if err != nil {
		return &passFailure{reason: domain.ReasonAudioMissing, err: err}
	}
	defer audio.Close()

	transcribeCtx := ctx
	cancel := func() {}
	if !softDeadline.IsZero() {
		transcribeCtx, cancel = context.WithDeadline(ctx, softDeadline)
	}
	transcript, err := s.transcriber.Transcribe(transcribeCtx, audio, path.Base(item.SourceURI))
	cancel()
	if err != nil {
		return fmt.Errorf("transcription: %w", err)
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return failPass(domain.ReasonEmptyTranscript)
	}

	truncated := false
	if runes := []rune(transcript); len(runes) > s.cfg.MaxTranscriptChars {
		transcript = string(runes[:s.cfg.MaxTranscriptChars])
		truncated = true
	}

	derivedKey := fmt.Sprintf("derived/%s_audio.txt", item.ID)
	if err := s.blobs.Put(ctx, derivedKey, strings.NewReader(transcript), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("store transcript: %w", err)
	}
	if err := s.items.UpdateExtraction(ctx, item.ID, item.Title, item.SourceURI, derivedKey); err != nil {
		return err
	}

	if err := s.items.MergeMetadata(ctx, item.ID, domain.Metadata{
		"transcript_preview":   previewText(transcript, 800),
		"transcript_truncated": truncated,
	}); err != nil {
		return err
	}

	chunks := capChunks(ChunkText(transcript, s.cfg.Chunking), s.cfg.AudioChunkCap)

	// No timestamp segmentation exists yet, so AUDIO_MS bounds stay null
	// rather than a fabricated 0/0.
	_, err = s.writer.WriteChunks(ctx, WriteChunksInput{
		ItemID:  item.ID,
		OwnerID: item.OwnerID,
		Texts:   chunks,
		Pointer: domain.Pointer{Type: domain.PointerTypeAudioMS},
	})
	return err
}

// processPDF chunks each extracted page independently so every chunk's
// pointer is a single 1-based page number, stopping once the global chunk
// cap is reached.
func (s *IngestionService) processPDF(ctx context.Context, item *domain.KnowledgeItem) error {
	if err := s.guardDocumentSize(ctx, item); err != nil {
		return err
	}

	ex, ok := s.extractors[domain.SourceKindPDF]
	if !ok {
		return failPass("pdf_extractor_not_configured")
	}
	res, err := ex.Extract(ctx, item.RawObjectKey)
	if err != nil {
		return fmt.Errorf("pdf extraction: %w", err)
	}

	title := res.Title
	if title == "" {
		title = item.Title
	}
	if err := s.items.UpdateExtraction(ctx, item.ID, title, item.SourceURI, ""); err != nil {
		return err
	}
	if err := s.items.MergeMetadata(ctx, item.ID, res.Metadata); err != nil {
		return err
	}

	index := 0
	for i, page := range res.Pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		pageChunks := ChunkText(page, s.cfg.Chunking)
		if remaining := s.cfg.DocumentChunkCap - index; len(pageChunks) > remaining {
			pageChunks = pageChunks[:remaining]
		}
		if len(pageChunks) == 0 {
			break
		}
		pageNo := strconv.Itoa(i + 1)
		index, err = s.writer.WriteChunks(ctx, WriteChunksInput{
			ItemID:     item.ID,
			OwnerID:    item.OwnerID,
			Texts:      pageChunks,
			Pointer:    domain.Pointer{Type: domain.PointerTypePDFPage, Start: pageNo, End: pageNo},
			StartIndex: index,
		})
		if err != nil {
			return err
		}
		if index >= s.cfg.DocumentChunkCap {
			break
		}
	}
	return nil
}

func (s *IngestionService) processMarkdown(ctx context.Context, item *domain.KnowledgeItem) error {
	if err := s.guardDocumentSize(ctx, item); err != nil {
		return err
	}

	ex, ok := s.extractors[domain.SourceKindMarkdown]
	if !ok {
		return failPass("markdown_extractor_not_configured")
	}
	res, err := ex.Extract(ctx, item.RawObjectKey)
	if err != nil {
		return fmt.Errorf("markdown extraction: %w", err)
	}

	title := res.Title
	if title == "" {
		title = item.Title
	}
	if err := s.items.UpdateExtraction(ctx, item.ID, title, item.SourceURI, ""); err != nil {
		return err
	}
	if err := s.items.MergeMetadata(ctx, item.ID, res.Metadata); err != nil {
		return err
	}

	chunks := capChunks(ChunkText(res.Text, s.cfg.Chunking), s.cfg.DocumentChunkCap)
	_, err = s.writer.WriteChunks(ctx, WriteChunksInput{
		ItemID:  item.ID,
		OwnerID: item.OwnerID,
		Texts:   chunks,
		Pointer: domain.Pointer{Type: domain.PointerTypeNoteRange, Start: "0", End: "0"},
	})
	return err
}

// processImage indexes the caller-supplied description and tags as a
// searchable chunk. This is the only pass that attempts embeddings: its
// chunk volume is tiny, so provider latency cannot stall ingestion.
func (s *IngestionService) processImage(ctx context.Context, item *domain.KnowledgeItem, description string, tags []string) error {
	cleanTags := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			cleanTags = append(cleanTags, t)
		}
	}

	if err := s.items.MergeMetadata(ctx, item.ID, domain.Metadata{
		"tags":             cleanTags,
		"description_text": description,
	}); err != nil {
		return err
	}

	searchable := strings.TrimSpace(strings.Join([]string{
		strings.TrimSpace("Description: " + description),
		"Tags: " + strings.Join(cleanTags, ", "),
	}, "\n"))

	chunks := ChunkText(searchable, s.cfg.Chunking)
	if len(chunks) == 0 {
		chunks = []string{searchable}
	}

	vectors := s.embeddings.EmbedTexts(ctx, chunks)

	_, err := s.writer.WriteChunks(ctx, WriteChunksInput{
		ItemID:  item.ID,
		OwnerID: item.OwnerID,
		Texts:   chunks,
		Pointer: domain.Pointer{Type: domain.PointerTypeImageRef, Start: item.RawObjectKey},
		Vectors: vectors,
	})
	return err
}

func (s *IngestionService) guardDocumentSize(ctx context.Context, item *domain.KnowledgeItem) error {
	if s.blobs == nil {
		return domain.ErrStorageNotConfigured
	}
	size, err := s.blobs.Size(ctx, item.RawObjectKey)
	if err != nil {
		return &passFailure{reason: domain.ReasonDocumentMissing, err: err}
	}
	if size > s.cfg.MaxUploadBytes {
		return failPass(domain.ReasonDocumentTooLarge)
	}
	return nil
}

func (s *IngestionService) budgetFor(kind domain.SourceKind) PassBudget {
	switch kind {
	case domain.SourceKindWeb:
		return s.cfg.WebBudget
	case domain.SourceKindAudio:
		return s.cfg.AudioBudget
	case domain.SourceKindPDF, domain.SourceKindMarkdown:
		return s.cfg.DocumentBudget
	default:
		// IMAGE work is tiny and synchronous-scale; it runs unbounded.
		return PassBudget{}
	}
}

func failureReason(kind domain.SourceKind, err error) string {
	var pf *passFailure
	if errors.As(err, &pf) {
		return pf.reason
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		switch kind {
		case domain.SourceKindWeb:
			return domain.ReasonWebTimeout
		case domain.SourceKindAudio:
			return domain.ReasonAudioTimeout
		case domain.SourceKindPDF, domain.SourceKindMarkdown:
			return domain.ReasonDocumentTimeout
		}
	}
	reason := err.Error()
	if len(reason) > 500 {
		reason = reason[:500]
	}
	return reason
}

func capChunks(chunks []string, cap int) []string {
	if cap > 0 && len(chunks) > cap {
		return chunks[:cap]
	}
	return chunks
}

func previewText(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}
