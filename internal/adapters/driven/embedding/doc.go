// Package embedding contains EmbeddingService adapters.
//
//   - ollama: local Ollama server through its Go client
//   - openai: OpenAI-compatible /embeddings endpoints
//   - hashing: deterministic feature hashing, no network
//   - ratelimit: token-bucket decorator for any of the above
package embedding
