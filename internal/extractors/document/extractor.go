// Package document extracts rich documents (docx, pdf, html) into a single
// content record.
package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor dispatches on the file format.
type Extractor struct {
	runner CommandRunner
}

// New creates a document extractor that runs pdftotext from PATH.
func New() *Extractor {
	return &Extractor{runner: execRunner{}}
}

// NewWithRunner creates a document extractor with a custom command runner.
func NewWithRunner(runner CommandRunner) *Extractor {
	return &Extractor{runner: runner}
}

// Kind returns the source kind.
func (e *Extractor) Kind() domain.SourceKind {
	return domain.KindDocument
}

// Extract returns one content record with title and format metadata.
func (e *Extractor) Extract(ctx context.Context, file driven.File) ([]domain.Record, error) {
	var (
		doc parsed
		err error
	)
	switch file.Format {
	case "docx":
		doc, err = parseDOCX(file.Content)
	case "pdf":
		doc, err = e.parsePDF(ctx, file.Content)
	case "html", "htm":
		doc, err = parseHTML(file.Content)
	default:
		return nil, fmt.Errorf("%w: document format %q", domain.ErrUnsupportedFormat, file.Format)
	}
	if err != nil {
		return nil, domain.NewExtractionError(file.ID, err)
	}
	if strings.TrimSpace(doc.text) == "" {
		return nil, nil
	}

	title := doc.title
	if title == "" {
		title = titleFromName(file.Name)
	}
	rec := domain.NewRecord(domain.KindDocument,
		domain.Field{Name: "title", Value: title},
		domain.Field{Name: domain.ContentField, Value: doc.text},
	)
	rec.Metadata["format"] = file.Format
	rec.Metadata["title"] = title
	if doc.pages > 0 {
		rec.Metadata["pages"] = doc.pages
	}
	return []domain.Record{rec}, nil
}

// parsed is the result of a format parser.
type parsed struct {
	title string
	text  string
	pages int
}

// titleFromName derives a title from a file name.
func titleFromName(name string) string {
	filename := filepath.Base(name)
	filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}
