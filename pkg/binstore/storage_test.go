package binstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri        string
		bucket     string
		prefix     string
		shouldFail bool
	}{
		{"s3://bucket/path/to/ds", "bucket", "path/to/ds", false},
		{"s3://bucket", "bucket", "", false},
		{"s3://bucket/ds/", "bucket", "ds", false},
		{"s3:///ds", "", "", true},
		{"/local/path", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := ParseS3URI(tt.uri)
			if tt.shouldFail {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.prefix, prefix)
		})
	}
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewStorage(ctx, dir)
	require.NoError(t, err)
	assert.False(t, s.IsS3())
	assert.Equal(t, dir, s.BasePath())

	ok, err := s.Exists(ctx, "bins/a.kbin")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteFile(ctx, "bins/a.kbin", []byte("abc")))
	ok, err = s.Exists(ctx, "bins/a.kbin")
	require.NoError(t, err)
	assert.True(t, ok)

	local := filepath.Join(t.TempDir(), "b")
	require.NoError(t, os.WriteFile(local, []byte("xyz"), 0644))
	require.NoError(t, s.PutFile(ctx, "bins/b.kbin", local))

	files, err := s.List(ctx, "bins")
	require.NoError(t, err)
	assert.Equal(t, []string{"bins/a.kbin", "bins/b.kbin"}, files)

	rc, err := s.Open(ctx, "bins/b.kbin")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "xyz", string(data))

	none, err := s.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
