package ingest

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the split window in runes.
	DefaultChunkSize = 1000

	// DefaultOverlap is how many runes consecutive chunks share.
	DefaultOverlap = 200
)

// Splitter cuts long text into overlapping chunks sized for embedding.
// It prefers paragraph breaks, then sentence ends, then whitespace, and
// hard-cuts only when a window contains none of those.
type Splitter struct {
	chunkSize int
	overlap   int
}

// NewSplitter validates the window geometry. Sizes are in runes; the
// overlap must leave room for the window to advance.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("overlap cannot be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("overlap %d must be smaller than chunk size %d", overlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}, nil
}

// Split returns trimmed chunks covering text in order. Text within the
// window comes back as a single chunk, empty text as none.
func (s *Splitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= s.chunkSize {
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := min(start+s.chunkSize, len(runes))
		if end < len(runes) {
			end = splitPoint(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
		start = max(end-s.overlap, start+1)
	}
	return chunks
}

// splitPoint picks where to end the window [start, limit). Boundaries in
// the first half of the window are ignored so chunks do not degenerate;
// limit itself is the answer when nothing qualifies.
func splitPoint(runes []rune, start, limit int) int {
	floor := start + (limit-start)/2

	if p := lastBoundary(runes, floor, limit, func(i int) bool {
		return runes[i] == '\n' && i > start && runes[i-1] == '\n'
	}); p > 0 {
		return p
	}
	if p := lastBoundary(runes, floor, limit, func(i int) bool {
		return sentenceEnd(runes, i)
	}); p > 0 {
		return p
	}
	if p := lastBoundary(runes, floor, limit, func(i int) bool {
		return unicode.IsSpace(runes[i])
	}); p > 0 {
		return p
	}
	return limit
}

// lastBoundary returns one past the last index in [floor, limit) that
// matches, or -1.
func lastBoundary(runes []rune, floor, limit int, match func(i int) bool) int {
	for i := limit - 1; i >= floor; i-- {
		if match(i) {
			return i + 1
		}
	}
	return -1
}

// sentenceEnd reports whether runes[i] closes a sentence. ASCII enders
// need trailing whitespace to rule out decimals and abbreviations;
// fullwidth enders qualify on their own.
func sentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '.', '!', '?':
		return i+1 >= len(runes) || unicode.IsSpace(runes[i+1])
	case '。', '！', '？':
		return true
	}
	return false
}
