// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - Extractor: Turns stored bytes into records
//   - Chunker: Splits record text into content-addressed windows
//   - EmbeddingService: Generates vector embeddings
//   - VectorIndex: Stores and searches embeddings
//   - DataSourceStore, ChunkStore, JobStore: Ingestion metadata
//   - DatabaseStore, BindingStore: Business databases and agent bindings
//   - QueryStore: Structured and raw queries over business data
//   - BlobStore: Uploaded bytes
//   - StatusNotifier: Job status events
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or extractor package
package driven
