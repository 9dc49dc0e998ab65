// Package handlers implements the HTTP handlers of the API server.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/pensieve-ai/pensieve/internal/api"
	"github.com/pensieve-ai/pensieve/internal/api/middleware"
	"github.com/pensieve-ai/pensieve/internal/domain"
	"github.com/pensieve-ai/pensieve/internal/service"
)

// ItemStore is the item persistence surface the handlers need.
type ItemStore interface {
	Create(ctx context.Context, item *domain.KnowledgeItem) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.KnowledgeItem, error)
}

// Submitter schedules an ingestion pass.
type Submitter interface {
	Submit(input service.SubmitInput)
}

// IngestHandler accepts new content and queues it for ingestion.
type IngestHandler struct {
	items     ItemStore
	blobs     service.BlobStore
	submitter Submitter
	uuidGen   service.UUIDGenerator
	maxUpload int64
}

func NewIngestHandler(items ItemStore, blobs service.BlobStore, submitter Submitter, maxUpload int64) *IngestHandler {
	return &IngestHandler{
		items:     items,
		blobs:     blobs,
		submitter: submitter,
		uuidGen:   &service.DefaultUUIDGenerator{},
		maxUpload: maxUpload,
	}
}

type IngestWebRequest struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	SourceTime string `json:"source_time"`
}

// ItemResponse is the API shape of a knowledge item.
type ItemResponse struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	Title        string          `json:"title"`
	SourceURI    string          `json:"source_uri,omitempty"`
	Metadata     domain.Metadata `json:"metadata"`
	SourceTime   *time.Time      `json:"source_time,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	IngestedAt   time.Time       `json:"ingested_at"`
}

func itemToResponse(item *domain.KnowledgeItem) *ItemResponse {
	metadata := item.Metadata
	if metadata == nil {
		metadata = domain.Metadata{}
	}
	return &ItemResponse{
		ID:           item.ID,
		OwnerID:      item.OwnerID,
		Kind:         string(item.Kind),
		Status:       string(item.Status),
		Title:        item.Title,
		SourceURI:    item.SourceURI,
		Metadata:     metadata,
		SourceTime:   item.SourceTime,
		ErrorMessage: item.ErrorMessage,
		IngestedAt:   item.IngestedAt,
	}
}

// Web queues a URL for ingestion.
func (h *IngestHandler) Web(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	var req IngestWebRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		api.Error(w, http.StatusBadRequest, "url must be a valid http(s) URL")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = u.String()
	}

	item := domain.NewKnowledgeItem(h.uuidGen.NewString(), ownerID, domain.SourceKindWeb, title, u.String(), "")
	if st := parseSourceTime(req.SourceTime); st != nil {
		item.SourceTime = st
	}

	h.createAndSubmit(w, r, item, service.SubmitInput{
		ItemID:  item.ID,
		OwnerID: ownerID,
		Kind:    domain.SourceKindWeb,
	})
}

// Audio accepts a multipart audio upload and queues it for transcription.
func (h *IngestHandler) Audio(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, domain.SourceKindAudio)
}

// Document accepts a multipart PDF or markdown upload.
func (h *IngestHandler) Document(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, "")
}

// Image accepts a multipart image upload with a description and tags.
func (h *IngestHandler) Image(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, domain.SourceKindImage)
}

// upload handles the shared multipart flow. An empty kind means the kind is
// derived from the file extension (the document route).
func (h *IngestHandler) upload(w http.ResponseWriter, r *http.Request, kind domain.SourceKind) {
	ownerID := middleware.GetOwnerID(r.Context())

	if h.blobs == nil {
		api.Error(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		api.Error(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d MB limit", h.maxUpload/(1024*1024)))
		return
	}

	filename := filepath.Base(header.Filename)
	if kind == "" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".pdf":
			kind = domain.SourceKindPDF
		case ".md", ".markdown", ".txt":
			kind = domain.SourceKindMarkdown
		default:
			api.Error(w, http.StatusBadRequest, "unsupported document type, expected .pdf or .md")
			return
		}
	}

	itemID := h.uuidGen.NewString()
	rawKey := fmt.Sprintf("raw/%s_%s", itemID, filename)
	if err := h.blobs.Put(r.Context(), rawKey, file, header.Header.Get("Content-Type")); err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = filename
	}

	item := domain.NewKnowledgeItem(itemID, ownerID, kind, title, filename, rawKey)
	if st := parseSourceTime(r.FormValue("source_time")); st != nil {
		item.SourceTime = st
	}

	input := service.SubmitInput{
		ItemID:  itemID,
		OwnerID: ownerID,
		Kind:    kind,
	}
	if kind == domain.SourceKindImage {
		input.Description = strings.TrimSpace(r.FormValue("description"))
		input.Tags = splitTags(r.FormValue("tags"))
	}

	h.createAndSubmit(w, r, item, input)
}

func (h *IngestHandler) createAndSubmit(w http.ResponseWriter, r *http.Request, item *domain.KnowledgeItem, input service.SubmitInput) {
	if err := domain.ValidateKnowledgeItem(item); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.items.Create(r.Context(), item); err != nil {
		api.HandleError(w, err)
		return
	}

	h.submitter.Submit(input)

	api.Success(w, http.StatusAccepted, itemToResponse(item))
}

func parseSourceTime(raw string) *time.Time {
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

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
