package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PointerType describes how a chunk's pointer locates text within its source.
type PointerType string

const (
	PointerTypeURL       PointerType = "URL"
	PointerTypeAudioMS   PointerType = "AUDIO_MS"
	PointerTypePDFPage   PointerType = "PDF_PAGE"
	PointerTypeNoteRange PointerType = "NOTE_RANGE"
	PointerTypeImageRef  PointerType = "IMAGE_REF"
)

// Pointer locates a chunk within its source. The meaning of Start/End
// depends on the pointer type: a source URI for URL, 1-based page numbers
// for PDF_PAGE, millisecond offsets for AUDIO_MS, a raw object key for
// IMAGE_REF.
type Pointer struct {
	Type  PointerType
	Start string
	End   string
}

// Chunk is a stored, indexed fragment of a knowledge item's extracted text.
// Chunks are immutable once written; a nil Embedding is a valid, permanent
// state, not a pending one.
type Chunk struct {
	ID        string
	OwnerID   string
	ItemID    string
	Index     int
	Text      string
	Embedding []float32
	Hash      string
	Pointer   Pointer
	TimeStart *time.Time
	TimeEnd   *time.Time
	CreatedAt time.Time
}

// HashText computes the content hash stored alongside each chunk.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
