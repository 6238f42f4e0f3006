// Package structured extracts JSON documents.
package structured

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// ValueField names the field of records built from scalars.
const ValueField = "value"

// Extractor handles JSON documents.
type Extractor struct{}

// New creates a new JSON extractor.
func New() *Extractor {
	return &Extractor{}
}

// Kind returns the source kind.
func (e *Extractor) Kind() domain.SourceKind {
	return domain.KindStructured
}

// Extract decodes the document. A top-level array yields one record per
// element, an object yields one record, and a scalar yields one value record.
// Object keys are emitted in sorted order.
func (e *Extractor) Extract(_ context.Context, file driven.File) ([]domain.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(file.Content))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, domain.NewExtractionError(file.ID, fmt.Errorf("decode json: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, domain.NewExtractionError(file.ID, errors.New("trailing data after JSON value"))
	}

	switch v := doc.(type) {
	case []any:
		records := make([]domain.Record, 0, len(v))
		for i, item := range v {
			rec := toRecord(item)
			rec.Metadata["record_index"] = i
			records = append(records, rec)
		}
		return records, nil
	case nil:
		return nil, nil
	default:
		return []domain.Record{toRecord(v)}, nil
	}
}

func toRecord(v any) domain.Record {
	obj, ok := v.(map[string]any)
	if !ok {
		return domain.NewRecord(domain.KindStructured, domain.Field{Name: ValueField, Value: v})
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]domain.Field, len(keys))
	for i, k := range keys {
		fields[i] = domain.Field{Name: k, Value: obj[k]}
	}
	return domain.NewRecord(domain.KindStructured, fields...)
}
