// Package extract implements per-source-kind content extraction.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/pensieve-ai/pensieve/internal/domain"
	"github.com/pensieve-ai/pensieve/internal/service"
)

const (
	maxWebBodyBytes = 1 << 20
	maxWebTextRunes = 200000
)

// WebExtractor fetches a page and reduces it to readable text. Fetches are
// rate limited so a burst of ingests cannot hammer a single origin.
type WebExtractor struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebExtractor creates a WebExtractor with a bounded HTTP client.
func NewWebExtractor() *WebExtractor {
	return &WebExtractor{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 3),
	}
}

// Extract fetches the URL and returns its title, visible text, and fetch
// metadata. Only http and https URLs are accepted.
func (e *WebExtractor) Extract(ctx context.Context, locator string) (*service.ExtractResult, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "pensieve/1.0 (+knowledge ingestion)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxWebBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title, text := ReduceDocument(doc)
	truncated := false
	if runes := []rune(text); len(runes) > maxWebTextRunes {
		text = string(runes[:maxWebTextRunes])
		truncated = true
	}

	result := &service.ExtractResult{
		Title: title,
		Text:  text,
		Metadata: domain.Metadata{
			"fetched_at": time.Now().UTC().Format(time.RFC3339),
			"truncated":  truncated,
		},
	}
	if published, ok := doc.Find(`meta[property="article:published_time"]`).First().Attr("content"); ok {
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(published)); err == nil {
			utc := ts.UTC()
			result.SourceTime = &utc
		}
	}
	return result, nil
}

// ReduceDocument strips non-content elements and returns the page title and
// its visible text with paragraph structure preserved.
func ReduceDocument(doc *goquery.Document) (title, text string) {
	title = strings.TrimSpace(doc.Find("title").First().Text())
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && strings.TrimSpace(og) != "" {
		title = strings.TrimSpace(og)
	}

	doc.Find("script, style, noscript, nav, header, footer, aside, form, iframe").Remove()

	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	var paragraphs []string
	root.Find("p, h1, h2, h3, h4, h5, h6, li, pre, blockquote").Each(func(_ int, sel *goquery.Selection) {
		if t := collapseSpace(sel.Text()); t != "" {
			paragraphs = append(paragraphs, t)
		}
	})
	if len(paragraphs) == 0 {
		if t := collapseSpace(root.Text()); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}

	return title, strings.Join(paragraphs, "\n\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
