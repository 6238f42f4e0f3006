// Package delimited extracts CSV and TSV files, one record per row.
package delimited

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor handles delimited text.
type Extractor struct{}

// New creates a new delimited extractor.
func New() *Extractor {
	return &Extractor{}
}

// Kind returns the source kind.
func (e *Extractor) Kind() domain.SourceKind {
	return domain.KindDelimited
}

// Extract reads the header row and emits one record per data row.
// Blank rows are skipped; short rows leave missing fields empty. The row
// metadata is the record's line in the file counted from the header, so
// skipped blank lines still count.
func (e *Extractor) Extract(ctx context.Context, file driven.File) ([]domain.Record, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(file.Content, []byte{0xEF, 0xBB, 0xBF})))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if file.Format == "tsv" {
		r.Comma = '\t'
	}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewExtractionError(file.ID, fmt.Errorf("read header: %w", err))
	}
	columns := HeaderNames(header)
	headerLine, _ := r.FieldPos(0)

	var records []domain.Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.NewExtractionError(file.ID, fmt.Errorf("read row: %w", err))
		}
		if blank(values) {
			continue
		}
		line, _ := r.FieldPos(0)

		fields := make([]domain.Field, len(columns))
		for i, col := range columns {
			v := ""
			if i < len(values) {
				v = strings.TrimSpace(values[i])
			}
			fields[i] = domain.Field{Name: col, Value: v}
		}
		rec := domain.NewRecord(domain.KindDelimited, fields...)
		rec.Metadata["row"] = line - headerLine
		records = append(records, rec)
	}
	return records, nil
}

// HeaderNames trims header cells and names blank or repeated ones
// column_N so every field name is unique.
func HeaderNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" || seen[name] {
			name = fmt.Sprintf("column_%d", i+1)
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
