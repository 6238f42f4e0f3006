// Package sqlite provides a unified SQLite-based implementation of the
// metadata store ports.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO, with jmoiron/sqlx for row mapping. It implements multiple
// store interfaces through a single database connection:
//
//   - DataSourceStore: Uploaded data sources
//   - ChunkStore: Chunk metadata and vector references
//   - JobStore: Ingestion jobs
//   - DatabaseStore: Business databases
//   - BindingStore: Agent database bindings
//
// # Schema
//
// The schema is managed by goose migrations embedded from the migrations/
// directory.
//
// # Thread Safety
//
// All operations are thread-safe. The store relies on SQLite in WAL mode with
// a busy timeout; foreign keys are enabled on every pooled connection.
package sqlite
