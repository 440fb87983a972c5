package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c"), []byte("c"), 0o644))

	files, err := LocalFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a", files[0].Rel)
	assert.Equal(t, "b", files[1].Rel)
	assert.Equal(t, "sub/c", files[2].Rel)

	single, err := LocalFiles(filepath.Join(dir, "sub", "c"))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "c", single[0].Rel)

	_, err = LocalFiles(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "Root/abc", Key("/Root", "abc"))
	assert.Equal(t, "abc", Key("", "abc"))
	assert.Equal(t, "acct/Root/x", Key("acct", "/Root/", "x"))
	assert.Equal(t, "x", Key("../x"))
}
