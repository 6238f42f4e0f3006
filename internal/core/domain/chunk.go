package domain

import "time"

// Chunk is one unit of retrievable text.
// It is immutable once persisted and owned by its DataSource.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string `json:"id"`

	// DataSourceID links to the owning DataSource.
	DataSourceID string `json:"data_source_id"`

	// BusinessID is copied from the data source for scoping.
	BusinessID string `json:"business_id"`

	// DatabaseID is copied from the data source for scoping.
	DatabaseID string `json:"database_id"`

	// Content is the trimmed window text.
	Content string `json:"content"`

	// ContentHash is the hex SHA-256 of Content, unique per data source.
	ContentHash string `json:"content_hash"`

	// Index is the ordinal position within the data source.
	Index int `json:"index"`

	// Metadata records the origin (record index, chunk index, sheet, page).
	Metadata map[string]any `json:"metadata,omitempty"`

	// VectorRef is the identifier of the entry in the vector index.
	VectorRef string `json:"vector_ref"`

	// CreatedAt is when the chunk was produced.
	CreatedAt time.Time `json:"created_at"`
}
