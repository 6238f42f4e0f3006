package domain

import "time"

// DefaultSearchLimit is used when a search request has no limit.
const DefaultSearchLimit = 5

// DefaultScoreThreshold is the minimum similarity returned by default.
const DefaultScoreThreshold = 0.7

// SearchRequest is a scoped semantic search.
type SearchRequest struct {
	// Query is the natural language text to embed.
	Query string

	// BusinessID scopes every hit. Required.
	BusinessID string

	// DatabaseIDs restricts hits to these databases when non-empty.
	DatabaseIDs []string

	// Limit is the maximum number of results.
	Limit int

	// ScoreThreshold drops hits scoring below it.
	ScoreThreshold float64
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	SourceID   string         `json:"source_id"`
	DatabaseID string         `json:"database_id"`
	ChunkID    string         `json:"chunk_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// VectorPoint is one entry written to the vector index.
type VectorPoint struct {
	ID           string
	Vector       []float32
	BusinessID   string
	DatabaseID   string
	DataSourceID string
	ChunkID      string
	Content      string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// VectorFilter scopes a native index query.
type VectorFilter struct {
	BusinessID  string
	DatabaseIDs []string
}

// VectorHit is a raw hit from the vector index.
type VectorHit struct {
	Point VectorPoint
	Score float64
}
