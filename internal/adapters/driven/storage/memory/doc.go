// Package memory provides in-memory implementations of the metadata store
// ports. It is used by tests and by the ephemeral serve mode.
package memory
