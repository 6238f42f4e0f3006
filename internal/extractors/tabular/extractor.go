// Package tabular extracts xlsx workbooks, one record per data row.
package tabular

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/extractors/delimited"
)

// SheetField is the internal field naming the originating sheet.
const SheetField = "_sheet_name"

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor handles spreadsheet workbooks.
type Extractor struct{}

// New creates a new workbook extractor.
func New() *Extractor {
	return &Extractor{}
}

// Kind returns the source kind.
func (e *Extractor) Kind() domain.SourceKind {
	return domain.KindTabular
}

// Extract reads every sheet. The first non-blank row of a sheet is its
// header; each later non-blank row becomes a record tagged with the sheet.
func (e *Extractor) Extract(ctx context.Context, file driven.File) ([]domain.Record, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(file.Content))
	if err != nil {
		return nil, domain.NewExtractionError(file.ID, fmt.Errorf("open workbook: %w", err))
	}
	defer wb.Close()

	var records []domain.Record
	for _, sheet := range wb.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, domain.NewExtractionError(file.ID, fmt.Errorf("read sheet %q: %w", sheet, err))
		}
		records = append(records, sheetRecords(sheet, rows)...)
	}
	return records, nil
}

func sheetRecords(sheet string, rows [][]string) []domain.Record {
	var (
		columns []string
		records []domain.Record
	)
	for i, row := range rows {
		if blank(row) {
			continue
		}
		if columns == nil {
			columns = delimited.HeaderNames(row)
			continue
		}

		fields := make([]domain.Field, 0, len(columns)+1)
		fields = append(fields, domain.Field{Name: SheetField, Value: sheet})
		for c, col := range columns {
			v := ""
			if c < len(row) {
				v = strings.TrimSpace(row[c])
			}
			fields = append(fields, domain.Field{Name: col, Value: v})
		}
		rec := domain.NewRecord(domain.KindTabular, fields...)
		rec.Metadata["sheet"] = sheet
		rec.Metadata["row"] = i + 1
		records = append(records, rec)
	}
	return records
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
