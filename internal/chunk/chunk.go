// Package chunk splits document text into overlapping fixed-size character
// windows, the unit of embedding.
package chunk

import (
	"fmt"
	"unicode/utf8"
)

// Defaults match the window used by the indexer.
const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// TextChunk is one window of a document.
// Start and End are rune offsets into the document, half-open.
type TextChunk struct {
	Path  string
	Index int
	Text  string
	Start int
	End   int
}

// Len returns the chunk length in characters.
func (c TextChunk) Len() int {
	return c.End - c.Start
}

// Chunker slides a window of Size characters, advancing Size-Overlap
// characters per step.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker. Requires 0 <= overlap < size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Default returns a Chunker with DefaultSize and DefaultOverlap.
func Default() *Chunker {
	return &Chunker{size: DefaultSize, overlap: DefaultOverlap}
}

// Size returns the window width in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the characters shared by consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text. Text no longer than the window yields a single chunk
// equal to the whole text, including the empty string.
func (c *Chunker) Chunk(path, text string) []TextChunk {
	n := utf8.RuneCountInString(text)
	if n <= c.size {
		return []TextChunk{{Path: path, Index: 0, Text: text, Start: 0, End: n}}
	}

	runes := []rune(text)
	step := c.size - c.overlap
	chunks := make([]TextChunk, 0, Count(n, c.size, c.overlap))

	for start := 0; ; start += step {
		end := start + c.size
		if end > n {
			end = n
		}
		chunks = append(chunks, TextChunk{
			Path:  path,
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == n {
			break
		}
	}
	return chunks
}

// Count returns the number of chunks Chunk produces for a text of n
// characters: 1 when n <= size, else ceil((n-overlap)/(size-overlap)).
func Count(n, size, overlap int) int {
	if n <= size {
		return 1
	}
	step := size - overlap
	return (n - overlap + step - 1) / step
}
