package service

import "strings"

// ChunkConfig controls text segmentation for ingestion.
type ChunkConfig struct {
	MaxChars int
	Overlap  int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 2000,
		Overlap:  200,
	}
}

func (cfg ChunkConfig) normalized() ChunkConfig {
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	// Overlap must stay strictly below MaxChars so the sliding window
	// always advances.
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChars {
		cfg.Overlap = 0
	}
	return cfg
}

// ChunkText splits text into ordered, non-empty chunks. Paragraphs
// (separated by blank lines) are greedily packed into buffers of at most
// MaxChars; any packed chunk still exceeding MaxChars is re-split by a
// sliding window of MaxChars advancing MaxChars-Overlap per step.
// Identical input and config always produce an identical sequence: chunk
// indexes and content hashes depend on it.
func ChunkText(text string, cfg ChunkConfig) []string {
	cfg = cfg.normalized()

	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}

	var paras []string
	for _, p := range strings.Split(clean, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}

	var packed []string
	var buf string
	flush := func() {
		if b := strings.TrimSpace(buf); b != "" {
			packed = append(packed, b)
		}
	}
	for _, p := range paras {
		if len([]rune(buf))+len([]rune(p))+2 <= cfg.MaxChars {
			if buf == "" {
				buf = p
			} else {
				buf = buf + "\n\n" + p
			}
		} else {
			flush()
			buf = p
		}
	}
	flush()

	var chunks []string
	for _, c := range packed {
		runes := []rune(c)
		if len(runes) <= cfg.MaxChars {
			chunks = append(chunks, c)
			continue
		}
		chunks = append(chunks, slideWindow(runes, cfg.MaxChars, cfg.Overlap)...)
	}

	return chunks
}

// SimpleChunks is a fixed-window chunker without paragraph awareness, for
// paths under tight latency budgets. It satisfies the same determinism and
// overlap-advance invariants as ChunkText.
func SimpleChunks(text string, maxChars int) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultChunkConfig().MaxChars
	}
	return slideWindow([]rune(clean), maxChars, 0)
}

func slideWindow(runes []rune, maxChars, overlap int) []string {
	step := maxChars - overlap
	if step <= 0 {
		step = maxChars
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end >= len(runes) {
			break
		}
	}
	return out
}
