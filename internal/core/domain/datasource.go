package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SourceKind is the closed set of extractor variants.
type SourceKind string

const (
	// KindTabular is a spreadsheet with one record per row.
	KindTabular SourceKind = "tabular"

	// KindDelimited is a delimited text file such as CSV.
	KindDelimited SourceKind = "delimited"

	// KindStructured is a JSON document.
	KindStructured SourceKind = "structured"

	// KindDocument is a rich document (docx, pdf, html).
	KindDocument SourceKind = "document"

	// KindText is plain text.
	KindText SourceKind = "text"
)

// formatKinds maps supported file extensions to their source kind.
var formatKinds = map[string]SourceKind{
	"xlsx": KindTabular,
	"csv":  KindDelimited,
	"tsv":  KindDelimited,
	"json": KindStructured,
	"docx": KindDocument,
	"pdf":  KindDocument,
	"html": KindDocument,
	"htm":  KindDocument,
	"txt":  KindText,
	"md":   KindText,
}

// FormatOf returns the lower-case extension of a file name without the dot.
func FormatOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// KindForFormat returns the source kind for an extension.
func KindForFormat(format string) (SourceKind, error) {
	kind, ok := formatKinds[strings.ToLower(format)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return kind, nil
}

// SupportedFormats returns every accepted extension.
func SupportedFormats() []string {
	return []string{"xlsx", "csv", "tsv", "json", "docx", "pdf", "html", "htm", "txt", "md"}
}

// DataSourceStatus is the processing status shown for an upload.
type DataSourceStatus string

const (
	SourcePending    DataSourceStatus = "pending"
	SourceProcessing DataSourceStatus = "processing"
	SourceCompleted  DataSourceStatus = "completed"
	SourceError      DataSourceStatus = "error"
)

// DataSource is one uploaded artifact.
// (BusinessID, ContentHash) is unique.
type DataSource struct {
	// ID is the unique identifier for the data source.
	ID string `json:"id"`

	// BusinessID is the owning business.
	BusinessID string `json:"business_id"`

	// DatabaseID is the owning business database.
	DatabaseID string `json:"database_id"`

	// Name is the declared file name.
	Name string `json:"name"`

	// Kind selects the extractor.
	Kind SourceKind `json:"source_kind"`

	// Format is the file extension without the dot.
	Format string `json:"format"`

	// Size is the byte size of the upload.
	Size int64 `json:"size"`

	// ContentHash is the hex SHA-256 of the upload.
	ContentHash string `json:"content_hash"`

	// StoragePath locates the stored bytes in the blob store.
	StoragePath string `json:"-"`

	// Status follows the latest job.
	Status DataSourceStatus `json:"status"`

	// Error holds the failure message when Status is SourceError.
	Error string `json:"error,omitempty"`

	// ChunkCount is the number of chunks persisted by the last completed job.
	ChunkCount int `json:"records_count"`

	// CreatedAt is when the upload was accepted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Upload is the input to upload intake.
type Upload struct {
	BusinessID   string
	DatabaseID   string
	DeclaredName string
	Content      []byte
}
