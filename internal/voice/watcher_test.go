package voice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_InvalidatesCatalog(t *testing.T) {
	s := newTestStores(t)
	writeAsset(t, s.presets.Root(), "amy/default.wav")

	c := NewCatalog(s.presets, s.personas, s.resolver)
	w, err := NewWatcher(c, s.presets.Root(), s.personas.Root())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	l, err := c.List()
	require.NoError(t, err)
	require.Len(t, l.Voices, 1)

	// a file written directly into an existing voice directory
	require.NoError(t, os.WriteFile(filepath.Join(s.presets.Root(), "amy", "sad.wav"), testWAV(t), 0o644))

	assert.Eventually(t, func() bool {
		l, err := c.List()
		return err == nil && len(l.Voices) == 1 && len(l.Voices[0].Emotions) == 2
	}, 2*time.Second, 20*time.Millisecond)

	// a brand new voice directory, then a file inside it
	require.NoError(t, os.MkdirAll(filepath.Join(s.presets.Root(), "bob"), 0o755))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(s.presets.Root(), "bob", "default.wav"), testWAV(t), 0o644))

	assert.Eventually(t, func() bool {
		l, err := c.List()
		return err == nil && len(l.Voices) == 2
	}, 2*time.Second, 20*time.Millisecond)
}
