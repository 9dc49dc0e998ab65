package domain

import (
	"fmt"
	"time"
)

// SourceKind identifies how a knowledge item entered the system.
type SourceKind string

const (
	SourceKindWeb      SourceKind = "WEB"
	SourceKindAudio    SourceKind = "AUDIO"
	SourceKindPDF      SourceKind = "PDF"
	SourceKindMarkdown SourceKind = "MARKDOWN"
	SourceKindImage    SourceKind = "IMAGE"
)

// ItemStatus represents the ingestion lifecycle of a knowledge item.
// READY and FAILED are terminal; an item never re-enters PROCESSING.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusProcessing ItemStatus = "PROCESSING"
	ItemStatusReady      ItemStatus = "READY"
	ItemStatusFailed     ItemStatus = "FAILED"
)

// Metadata is a free-form metadata map attached to a knowledge item.
// Updates are merged key-by-key, never overwritten wholesale.
type Metadata map[string]interface{}

// Merge returns a copy of m with every key of patch applied on top.
// Later writes win per key.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := make(Metadata, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// KnowledgeItem represents one ingested unit of content.
type KnowledgeItem struct {
	ID             string
	OwnerID        string
	Kind           SourceKind
	Title          string
	SourceURI      string
	RawObjectKey   string
	DerivedTextKey string
	Metadata       Metadata
	SourceTime     *time.Time
	Status         ItemStatus
	ErrorMessage   string
	IngestedAt     time.Time
}

// NewKnowledgeItem creates a pending item ready for submission.
func NewKnowledgeItem(id, ownerID string, kind SourceKind, title, sourceURI, rawObjectKey string) *KnowledgeItem {
	return &KnowledgeItem{
		ID:           id,
		OwnerID:      ownerID,
		Kind:         kind,
		Title:        title,
		SourceURI:    sourceURI,
		RawObjectKey: rawObjectKey,
		Metadata:     Metadata{},
		Status:       ItemStatusPending,
		IngestedAt:   time.Now().UTC(),
	}
}

// ValidateKnowledgeItem validates a KnowledgeItem instance.
func ValidateKnowledgeItem(item *KnowledgeItem) error {
	if item == nil {
		return fmt.Errorf("knowledge item cannot be nil")
	}
	if item.ID == "" {
		return fmt.Errorf("knowledge item ID is required")
	}
	if item.OwnerID == "" {
		return fmt.Errorf("knowledge item OwnerID is required")
	}
	if !isValidSourceKind(item.Kind) {
		return fmt.Errorf("knowledge item Kind is invalid: %s", item.Kind)
	}
	if !isValidItemStatus(item.Status) {
		return fmt.Errorf("knowledge item Status is invalid: %s", item.Status)
	}
	return nil
}

// Terminal reports whether a status is absorbing.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusReady || s == ItemStatusFailed
}

// ChooseSourceTime picks the best-known content creation time with a
// deterministic precedence: user-provided, then extracted, then fallback,
// then now. The result is always UTC.
func ChooseSourceTime(userProvided, extracted, fallback *time.Time) time.Time {
	for _, t := range []*time.Time{userProvided, extracted, fallback} {
		if t != nil && !t.IsZero() {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func isValidSourceKind(k SourceKind) bool {
	switch k {
	case SourceKindWeb, SourceKindAudio, SourceKindPDF, SourceKindMarkdown, SourceKindImage:
		return true
	}
	return false
}

func isValidItemStatus(s ItemStatus) bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusReady, ItemStatusFailed:
		return true
	}
	return false
}
