// Package vector holds the vector index adapters.
//
//   - qdrant: Qdrant over gRPC, for production
//   - memory: brute-force cosine search, for tests and ephemeral mode
package vector
