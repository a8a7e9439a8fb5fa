package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/sessionfile/internal/fs"
)

func TestRealWriteFileAtomic(t *testing.T) {
	t.Parallel()

	real := fs.NewReal()
	path := filepath.Join(t.TempDir(), "data")

	require.NoError(t, real.WriteFileAtomic(path, []byte("first")))
	require.NoError(t, real.WriteFileAtomic(path, []byte("second")))

	data, err := real.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestRealOpenFileExclusive(t *testing.T) {
	t.Parallel()

	real := fs.NewReal()
	path := filepath.Join(t.TempDir(), "excl")

	f, err := real.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = real.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestFaultyWriteBudget(t *testing.T) {
	t.Parallel()

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.WriteBudget = 10

	path := filepath.Join(t.TempDir(), "data")

	f, err := faulty.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
	require.NoError(t, err)

	defer f.Close()

	_, err = f.Write([]byte("12345"))
	require.NoError(t, err)

	_, err = f.Write([]byte("6789012345"))
	require.Error(t, err)
	assert.True(t, fs.IsInjected(err), "budget error not marked as injected")
}

func TestFaultyRenameHook(t *testing.T) {
	t.Parallel()

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.FailRename = func(oldpath, newpath string) error {
		return errors.New("nope")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	err := faulty.Rename(src, filepath.Join(dir, "b"))
	require.Error(t, err)
	assert.True(t, fs.IsInjected(err))

	_, err = os.Stat(src)
	assert.NoError(t, err, "source gone despite failed rename")
}

func TestFaultyPassesThroughWhenUnarmed(t *testing.T) {
	t.Parallel()

	faulty := fs.NewFaulty(fs.NewReal())
	path := filepath.Join(t.TempDir(), "data")

	require.NoError(t, faulty.WriteFileAtomic(path, []byte("ok")))

	data, err := faulty.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestIsInjectedOnRealError(t *testing.T) {
	t.Parallel()

	real := fs.NewReal()

	_, err := real.Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.False(t, fs.IsInjected(err))
}
