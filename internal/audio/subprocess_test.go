package audio

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	r := NewRunner(5 * time.Second)

	out, err := r.Run(context.Background(), []byte("hello world"), "cat")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))

	_, err = r.Run(context.Background(), nil, "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = r.Run(context.Background(), nil, "nonexistent_command_xyz")
	assert.Error(t, err)
}

func TestRunner_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	r := NewRunner(100 * time.Millisecond)
	_, err := r.Run(context.Background(), nil, "sleep", "5")
	assert.ErrorIs(t, err, ErrProcessTimeout)
}
