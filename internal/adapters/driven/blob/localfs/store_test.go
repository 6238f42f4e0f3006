package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	path, err := s.Put(ctx, "biz-1", "ds-1", "report.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "biz-1", "ds-1", "report.csv"), path)

	data, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	require.NoError(t, s.Delete(ctx, path))
	_, err = s.Get(ctx, path)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err))

	// Deleting twice is fine.
	assert.NoError(t, s.Delete(ctx, path))
}

func TestPut_SanitisesName(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	path, err := s.Put(context.Background(), "biz", "ds", "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "biz", "ds", "passwd"), path)
}

func TestPut_RejectsBadSegments(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name     string
		business string
		source   string
	}{
		{"empty business", "", "ds"},
		{"traversal", "..", "ds"},
		{"nested", "a/b", "ds"},
		{"empty source", "biz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Put(context.Background(), tt.business, tt.source, "f.txt", []byte("x"))
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestGet_OutsideRoot(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "/etc/hosts")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
