package voice

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicenexus/voicenexus/internal/audio"
)

func testWAV(t *testing.T) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(audio.Silence(16000, 100*time.Millisecond))
	require.NoError(t, err)
	return data
}

// writeAsset creates root/rel with WAV content.
func writeAsset(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, testWAV(t), 0o644))
}

type testStores struct {
	presets  *FileStore
	personas *FileStore
	resolver *Resolver
}

func newTestStores(t *testing.T) testStores {
	t.Helper()
	base := t.TempDir()
	presets, err := NewFileStore(filepath.Join(base, "presets"))
	require.NoError(t, err)
	personas, err := NewFileStore(filepath.Join(base, "personas"))
	require.NoError(t, err)
	return testStores{
		presets:  presets,
		personas: personas,
		resolver: NewResolver(presets, personas, []string{".wav"}),
	}
}
