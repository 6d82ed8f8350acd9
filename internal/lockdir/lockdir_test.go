package lockdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCreatesTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "lockroot")

	layout, err := Ensure(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "lock"), layout.Lock)
	assert.Equal(t, filepath.Join(root, "free"), layout.Free)

	for _, dir := range []string{layout.Root, layout.Lock, layout.Free} {
		info, statErr := os.Stat(dir)
		require.NoError(t, statErr)
		assert.True(t, info.IsDir())
	}

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(rootMode), info.Mode().Perm())
}

func TestEnsureIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "lockroot")

	_, err := Ensure(root)
	require.NoError(t, err)
	_, err = Ensure(root)
	assert.NoError(t, err)
}

func TestEnsureRejectsFileInPlaceOfDir(t *testing.T) {
	root := t.TempDir()
	blocked := filepath.Join(root, "lock")
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0o644))

	_, err := Ensure(root)
	assert.Error(t, err)
}

func TestLockAndFreePaths(t *testing.T) {
	layout := Layout{Lock: "/root/lock", Free: "/root/free"}
	assert.Equal(t, "/root/lock/7.pidlock", layout.LockPath(7))
	assert.Equal(t, "/root/free/7.pidlock", layout.FreePath(7))
}
