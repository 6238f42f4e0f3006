package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrExtraction", ErrExtraction},
		{"ErrDuplicateContent", ErrDuplicateContent},
		{"ErrUnsupportedFormat", ErrUnsupportedFormat},
		{"ErrFileTooLarge", ErrFileTooLarge},
		{"ErrIngestionInProgress", ErrIngestionInProgress},
		{"ErrIndexUpstream", ErrIndexUpstream},
		{"ErrUpstreamTimeout", ErrUpstreamTimeout},
		{"ErrProtocol", ErrProtocol},
		{"ErrNotAuthenticated", ErrNotAuthenticated},
		{"ErrAccessDenied", ErrAccessDenied},
		{"ErrUnsafeQuery", ErrUnsafeQuery},
		{"ErrDuplicateBinding", ErrDuplicateBinding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestExtractionError(t *testing.T) {
	cause := errors.New("zip: not a valid zip file")
	err := NewExtractionError("ds-1", cause)

	assert.Equal(t, "extract ds-1: zip: not a valid zip file", err.Error())
	assert.True(t, errors.Is(err, ErrExtraction))
	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("ingest: %w", err)
	var extErr *ExtractionError
	assert.True(t, errors.As(wrapped, &extErr))
	assert.Equal(t, "ds-1", extErr.FileID)
}

func TestExtractionError_NilCause(t *testing.T) {
	err := NewExtractionError("ds-2", nil)
	assert.Equal(t, "unreadable file", err.Cause)
	assert.ErrorIs(t, err, ErrExtraction)
}
