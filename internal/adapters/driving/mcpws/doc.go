// Package mcpws serves the agent protocol over websockets.
//
// Each connection owns one domain.Session. Messages are JSON objects
// carrying an operation and a request id; replies echo the id and may
// arrive out of order because requests on a connection run concurrently.
package mcpws
