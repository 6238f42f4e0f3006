// Package plaintext extracts plain text and markdown files.
package plaintext

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extractor handles plain text documents.
type Extractor struct{}

// New creates a new plain text extractor.
func New() *Extractor {
	return &Extractor{}
}

// Kind returns the source kind.
func (e *Extractor) Kind() domain.SourceKind {
	return domain.KindText
}

// Extract returns the whole file as one content record.
// Binary content is rejected.
func (e *Extractor) Extract(_ context.Context, file driven.File) ([]domain.Record, error) {
	content := bytes.TrimPrefix(file.Content, utf8BOM)
	if bytes.IndexByte(content, 0) >= 0 {
		return nil, domain.NewExtractionError(file.ID, errors.New("binary content in text file"))
	}

	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	rec := domain.NewRecord(domain.KindText, domain.Field{Name: domain.ContentField, Value: text})
	rec.Metadata["format"] = file.Format
	return []domain.Record{rec}, nil
}
