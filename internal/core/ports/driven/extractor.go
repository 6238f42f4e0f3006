package driven

import (
	"context"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// File is the input to an extractor.
type File struct {
	// ID identifies the data source, used in extraction errors.
	ID string

	// Name is the declared file name.
	Name string

	// Format is the lower-case extension.
	Format string

	// Content is the raw bytes.
	Content []byte
}

// Extractor produces zero or more records from bytes of a known kind.
// Failures are returned as *domain.ExtractionError.
type Extractor interface {
	// Kind returns the source kind this extractor serves.
	Kind() domain.SourceKind

	// Extract reads the file into records.
	Extract(ctx context.Context, file File) ([]domain.Record, error)
}

// Window is one chunk of text with its content hash.
type Window struct {
	Text string
	Hash string
}

// Chunker splits text into overlapping windows.
type Chunker interface {
	// Split returns the ordered windows for text. Identical input gives
	// identical output.
	Split(text string) []Window
}

// ExtractorSet selects the extractor for a source kind.
type ExtractorSet interface {
	// For returns the extractor of a kind or domain.ErrUnsupportedFormat.
	For(kind domain.SourceKind) (Extractor, error)
}
