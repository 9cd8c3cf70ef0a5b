// Package chunker splits raw document text into overlapping windows
// sized for the embedding model's effective context.
package chunker

import (
	"strings"
)

const (
	// DefaultSize is the default chunk window size in runes.
	DefaultSize = 800

	// DefaultOverlap is the default number of trailing runes re-included
	// at the start of the next window.
	DefaultOverlap = 120
)

// Chunk is a bounded span of source text prepared for embedding.
// Chunks are immutable once created; re-ingesting a source replaces
// all of its chunks wholesale.
type Chunk struct {
	Text     string
	SourceID string
	Position int
}

// Chunker produces deterministic overlapping chunks from raw text.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. A non-positive size falls back to DefaultSize.
// Overlap is clamped to be non-negative and strictly smaller than size.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks text into ordered windows of at most c.size runes, cutting
// on a preference order of delimiters (paragraph break, line break,
// sentence terminator, space) and falling back to a hard cut when no
// delimiter lands inside the window. Each window after the first begins
// with the trailing overlap runes of its predecessor.
//
// Empty or whitespace-only input yields no chunks. Identical input and
// parameters always yield an identical sequence.
func (c *Chunker) Split(text, sourceID string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.cutPoint(runes, start, end)
		}

		chunks = append(chunks, Chunk{
			Text:     string(runes[start:end]),
			SourceID: sourceID,
			Position: len(chunks),
		})

		if end == len(runes) {
			break
		}
		start = end - c.overlap
	}
	return chunks
}

// cutPoint finds the best boundary in (start+overlap, end]. Searching stops
// at start+overlap so every chunk stays longer than the overlap, which keeps
// window advancement monotonic.
func (c *Chunker) cutPoint(runes []rune, start, end int) int {
	floor := start + c.overlap + 1
	if floor > end {
		return end
	}

	if p := lastParagraphBreak(runes, floor, end); p > 0 {
		return p
	}
	if p := lastRune(runes, floor, end, '\n'); p > 0 {
		return p
	}
	if p := lastSentenceEnd(runes, floor, end); p > 0 {
		return p
	}
	if p := lastRune(runes, floor, end, ' '); p > 0 {
		return p
	}
	// No delimiter in the window: hard cut.
	return end
}

// lastParagraphBreak returns the position just after the last "\n\n" in
// [floor, end), or 0 if none.
func lastParagraphBreak(runes []rune, floor, end int) int {
	for i := end - 1; i > floor; i-- {
		if runes[i-1] == '\n' && runes[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

// lastSentenceEnd returns the position just after the last sentence
// terminator followed by a space in [floor, end), or 0 if none.
func lastSentenceEnd(runes []rune, floor, end int) int {
	for i := end - 1; i > floor; i-- {
		if runes[i] != ' ' {
			continue
		}
		switch runes[i-1] {
		case '.', '!', '?':
			return i + 1
		}
	}
	return 0
}

// lastRune returns the position just after the last occurrence of r in
// [floor, end), or 0 if none.
func lastRune(runes []rune, floor, end int, r rune) int {
	for i := end - 1; i >= floor; i-- {
		if runes[i] == r {
			return i + 1
		}
	}
	return 0
}

// Size returns the configured window size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }
