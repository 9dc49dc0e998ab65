package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pensieve-ai/pensieve/internal/domain"
	"github.com/pensieve-ai/pensieve/internal/service"
)

// PDFExtractor reads a stored PDF object and extracts its text page by
// page. A page that yields no text produces an empty entry so page numbers
// stay aligned.
type PDFExtractor struct {
	blobs service.BlobStore
}

// NewPDFExtractor creates a PDFExtractor reading from blobs.
func NewPDFExtractor(blobs service.BlobStore) *PDFExtractor {
	return &PDFExtractor{blobs: blobs}
}

// Extract loads the object at the locator key and returns per-page texts.
func (e *PDFExtractor) Extract(ctx context.Context, locator string) (*service.ExtractResult, error) {
	rc, err := e.blobs.Get(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("read pdf object: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read pdf object: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	pageCount := reader.NumPage()
	pages := make([]string, 0, pageCount)
	var joined []string

	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		// Malformed pages are skipped rather than failing the whole
		// document.
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		text = strings.TrimSpace(text)
		pages = append(pages, text)
		if text != "" {
			joined = append(joined, text)
		}
	}

	return &service.ExtractResult{
		Text:     strings.Join(joined, "\n\n"),
		Pages:    pages,
		Metadata: domain.Metadata{"page_count": pageCount},
	}, nil
}
