package voice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	s, err := NewFileStore(root)
	require.NoError(t, err)

	assert.False(t, s.Exists("a/b.wav"))

	require.NoError(t, s.Write("a/b.wav", []byte("data")))
	assert.True(t, s.Exists("a/b.wav"))
	assert.False(t, s.Exists("a"), "directories are not assets")

	got, err := s.Read("a/b.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	entries, err := s.List("a")
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may be left behind")
	assert.Equal(t, "b.wav", entries[0].Name())

	missing, err := s.List("nope")
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, s.Write("a/b.wav", []byte("replaced")))
	got, err = s.Read("a/b.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)

	require.NoError(t, s.Remove("a/b.wav"))
	require.NoError(t, s.Remove("a/b.wav"))
	assert.False(t, s.Exists("a/b.wav"))

	_, err = os.Stat(root)
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "x", "y.wav"), s.Abs("x/y.wav"))
}
