package attachments

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS_PutOpenExists(t *testing.T) {
	fs := LocalFS{Root: t.TempDir()}

	path, err := fs.Put("ab/abc123", strings.NewReader("attachment bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("ab", "abc123"), path)

	require.True(t, fs.Exists(path))
	assert.False(t, fs.Exists("ab/none"))

	f, err := fs.Open(path)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "attachment bytes", string(data))
}

func TestLocalFS_Copy(t *testing.T) {
	fs := LocalFS{Root: t.TempDir()}

	src, err := fs.Put("ab/source", strings.NewReader("payload"))
	require.NoError(t, err)

	dst, err := fs.Copy(src, "cd/copy")
	require.NoError(t, err)

	f, err := fs.Open(dst)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// Copying again overwrites, keeping retries idempotent.
	_, err = fs.Copy(src, "cd/copy")
	require.NoError(t, err)
}

func TestBlobPath(t *testing.T) {
	assert.Equal(t, filepath.Join("ab", "abcdef"), blobPath("abcdef"))
	assert.Equal(t, "a", blobPath("a"))
}
