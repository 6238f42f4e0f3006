package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForFormat(t *testing.T) {
	tests := []struct {
		format string
		want   SourceKind
	}{
		{"xlsx", KindTabular},
		{"csv", KindDelimited},
		{"TSV", KindDelimited},
		{"json", KindStructured},
		{"docx", KindDocument},
		{"pdf", KindDocument},
		{"html", KindDocument},
		{"txt", KindText},
		{"md", KindText},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			kind, err := KindForFormat(tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestKindForFormat_Unsupported(t *testing.T) {
	for _, format := range []string{"exe", "xls", ""} {
		_, err := KindForFormat(format)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, format)
	}
}

func TestSupportedFormats_AllResolve(t *testing.T) {
	for _, format := range SupportedFormats() {
		_, err := KindForFormat(format)
		assert.NoError(t, err, format)
	}
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, "csv", FormatOf("Orders.CSV"))
	assert.Equal(t, "gz", FormatOf("archive.tar.gz"))
	assert.Equal(t, "", FormatOf("README"))
}
