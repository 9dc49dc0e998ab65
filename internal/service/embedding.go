package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

const defaultEmbedWait = 70 * time.Second

// EmbeddingProvider is the external embedding capability. Implementations
// return one vector per input text, in input order.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingGateway is a best-effort wrapper around an embedding provider.
// Embedding is an optional enhancement: on a missing provider, provider
// failure, or the call exceeding the bounded wait, every requested vector
// comes back absent (nil) rather than an error.
type EmbeddingGateway struct {
	provider EmbeddingProvider
	maxWait  time.Duration
}

// NewEmbeddingGateway creates an EmbeddingGateway. A nil provider is valid
// and means no embedding credential is configured.
func NewEmbeddingGateway(provider EmbeddingProvider) *EmbeddingGateway {
	return &EmbeddingGateway{provider: provider, maxWait: defaultEmbedWait}
}

// NewEmbeddingGatewayWithWait creates an EmbeddingGateway with an explicit
// bounded wait for provider calls.
func NewEmbeddingGatewayWithWait(provider EmbeddingProvider, maxWait time.Duration) *EmbeddingGateway {
	if maxWait <= 0 {
		maxWait = defaultEmbedWait
	}
	return &EmbeddingGateway{provider: provider, maxWait: maxWait}
}

// EmbedTexts returns one entry per input text, in order. A nil entry means
// the vector is absent. This method never returns an error.
func (g *EmbeddingGateway) EmbedTexts(ctx context.Context, texts []string) [][]float32 {
	absent := make([][]float32, len(texts))
	if len(texts) == 0 || g == nil || g.provider == nil {
		return absent
	}

	callCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	vectors, err := g.provider.EmbedTexts(callCtx, texts)
	if err != nil {
		log.Printf("embedding degraded to absent: %v", err)
		return absent
	}
	if len(vectors) != len(texts) {
		log.Printf("embedding degraded to absent: provider returned %d vectors for %d texts", len(vectors), len(texts))
		return absent
	}
	return vectors
}

// EmbedQuery embeds a single query text, returning nil when the vector is
// unavailable for any reason.
func (g *EmbeddingGateway) EmbedQuery(ctx context.Context, query string) []float32 {
	vectors := g.EmbedTexts(ctx, []string{query})
	return vectors[0]
}

// VectorLiteral renders a vector in the storage engine's literal form,
// e.g. "[0.10000000,0.20000000,...]". Eight fractional digits keep the
// round trip stable.
func VectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%.8f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
