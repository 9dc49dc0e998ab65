package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pensieve-ai/pensieve/internal/domain"
	"github.com/pensieve-ai/pensieve/internal/service"
)

// MarkdownExtractor reads a stored markdown object and derives its title
// from the first level-1 heading.
type MarkdownExtractor struct {
	blobs service.BlobStore
}

// NewMarkdownExtractor creates a MarkdownExtractor reading from blobs.
func NewMarkdownExtractor(blobs service.BlobStore) *MarkdownExtractor {
	return &MarkdownExtractor{blobs: blobs}
}

// Extract loads the object at the locator key and returns its text with the
// first "# " heading as the title, if one exists.
func (e *MarkdownExtractor) Extract(ctx context.Context, locator string) (*service.ExtractResult, error) {
	rc, err := e.blobs.Get(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("read markdown object: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read markdown object: %w", err)
	}

	text := string(raw)
	return &service.ExtractResult{
		Title:    FirstHeading(text),
		Text:     text,
		Metadata: domain.Metadata{"format": "markdown"},
	}, nil
}

// FirstHeading returns the text of the first level-1 markdown heading, or
// an empty string when the document has none.
func FirstHeading(text string) string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
