package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// Ingestion Errors.

	// ErrExtraction indicates a file could not be read by its extractor.
	// Use ExtractionError to carry the file identifier.
	ErrExtraction = errors.New("extraction failed")

	// ErrDuplicateContent indicates the same bytes were already uploaded
	// for the business.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrUnsupportedFormat indicates the declared file extension has no extractor.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrFileTooLarge indicates an upload exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrIngestionInProgress indicates the data source already has a
	// pending or running job.
	ErrIngestionInProgress = errors.New("ingestion in progress")

	// ErrInvalidTransition indicates a job state change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job transition")

	// Upstream Errors.

	// ErrIndexUpstream indicates the embedding or vector index service failed.
	ErrIndexUpstream = errors.New("index upstream error")

	// ErrUpstreamTimeout indicates an embedding or index call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// Protocol Errors.

	// ErrProtocol indicates a malformed or unknown protocol message.
	ErrProtocol = errors.New("protocol error")

	// ErrNotAuthenticated indicates an operation was sent before authenticate.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAccessDenied indicates the database is not bound to the agent.
	// It is returned for unknown databases too.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnsafeQuery indicates a raw statement is not a read-only retrieval.
	ErrUnsafeQuery = errors.New("unsafe query")

	// ErrTooManyConnections indicates the connection registry is full.
	ErrTooManyConnections = errors.New("too many connections")

	// Binding Errors.

	// ErrDuplicateBinding indicates an active binding already exists for
	// the agent and database.
	ErrDuplicateBinding = errors.New("duplicate binding")
)

// ExtractionError reports a file that an extractor could not read.
type ExtractionError struct {
	// FileID identifies the data source being extracted.
	FileID string

	// Cause is the human-readable reason.
	Cause string

	// Err is the underlying error, if any.
	Err error
}

// NewExtractionError builds an ExtractionError from an underlying error.
func NewExtractionError(fileID string, err error) *ExtractionError {
	cause := "unreadable file"
	if err != nil {
		cause = err.Error()
	}
	return &ExtractionError{FileID: fileID, Cause: cause, Err: err}
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.FileID, e.Cause)
}

// Is reports ErrExtraction so callers can classify with errors.Is.
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
