// Package domain defines the core business entities for knowledgehub.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - DataSource: An uploaded artifact owned by a business database
//   - Record: One extracted unit of a data source (row, object, page)
//   - Chunk: A searchable window of text produced from a record
//   - BusinessDatabase: A logical collection of data sources
//   - Binding: An authorization edge from an agent to a database
//   - Job: One ingestion run and its state machine
//   - Session: The runtime state of one agent protocol connection
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
