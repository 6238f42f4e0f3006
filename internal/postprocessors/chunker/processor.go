// Package chunker splits text into overlapping fixed-size windows.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Ensure Processor implements the interface.
var _ driven.Chunker = (*Processor)(nil)

// Processor splits text into windows.
// Sizes are counted in characters (runes), not bytes.
type Processor struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Ensure overlap doesn't exceed chunk size
	if p.overlap >= p.chunkSize {
		p.overlap = p.chunkSize / 4
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// ChunkSize returns the window size.
func (p *Processor) ChunkSize() int { return p.chunkSize }

// Overlap returns the window overlap.
func (p *Processor) Overlap() int { return p.overlap }

// Split returns the ordered windows of text.
//
// A window ends chunkSize characters after its start. An end that falls
// inside a word moves back to the last whitespace after the start; with no
// such whitespace the hard cut stands. The next window starts overlap
// characters before the end, or at the end when that would not advance.
// Windows are trimmed and empty ones dropped.
func (p *Processor) Split(text string) []driven.Window {
	runes := []rune(text)
	n := len(runes)
	if n <= p.chunkSize {
		return appendWindow(nil, text)
	}

	windows := make([]driven.Window, 0, n/(p.chunkSize-p.overlap)+1)
	start := 0
	for start < n {
		end := start + p.chunkSize
		if end >= n {
			end = n
		} else if !unicode.IsSpace(runes[end]) && !unicode.IsSpace(runes[end-1]) {
			end = p.backToBoundary(runes, start, end)
		}

		windows = appendWindow(windows, string(runes[start:end]))
		if end >= n {
			break
		}

		next := end - p.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

// backToBoundary returns the index of the last whitespace in (start, end),
// or end when there is none.
func (p *Processor) backToBoundary(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}

func appendWindow(windows []driven.Window, text string) []driven.Window {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return windows
	}
	return append(windows, driven.Window{Text: trimmed, Hash: Hash(trimmed)})
}

// Hash returns the hex SHA-256 of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
