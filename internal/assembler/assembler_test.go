package assembler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempChunk(t *testing.T, dir string, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "chunk-*.swarmtmp")
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestAssembler_HappyPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out", "file.bin")

	a, err := New(target, 10)
	require.NoError(t, err)

	c1 := writeTempChunk(t, dir, []byte("01234"))
	c2 := writeTempChunk(t, dir, []byte("56789"))

	require.NoError(t, a.CommitChunk(0, c1))
	require.NoError(t, a.CommitChunk(5, c2))
	assert.Equal(t, int64(0), a.Remaining())

	require.NoError(t, a.Close())

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))

	_, err = os.Stat(target + ".swarmpending")
	assert.True(t, os.IsNotExist(err))
}

func TestAssembler_OutOfOrderChunks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.bin")

	a, err := New(target, 10)
	require.NoError(t, err)

	c2 := writeTempChunk(t, dir, []byte("56789"))
	c1 := writeTempChunk(t, dir, []byte("01234"))

	require.NoError(t, a.CommitChunk(5, c2))
	require.NoError(t, a.CommitChunk(0, c1))

	require.NoError(t, a.Close())

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
}

func TestAssembler_CloseBeforeComplete(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.bin")

	a, err := New(target, 10)
	require.NoError(t, err)

	c1 := writeTempChunk(t, dir, []byte("01234"))
	require.NoError(t, a.CommitChunk(0, c1))

	err = a.Close()
	assert.Error(t, err)

	_, statErr := os.Stat(target + ".swarmpending")
	assert.True(t, os.IsNotExist(statErr), "pending file should be cleaned up on failed close")
}

func TestAssembler_Abort(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.bin")

	a, err := New(target, 10)
	require.NoError(t, err)

	require.NoError(t, a.Abort())

	_, statErr := os.Stat(target + ".swarmpending")
	assert.True(t, os.IsNotExist(statErr))
}

func TestAssembler_TempFileRemovedAfterCommit(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.bin")

	a, err := New(target, 5)
	require.NoError(t, err)

	c1 := writeTempChunk(t, dir, []byte("hello"))
	require.NoError(t, a.CommitChunk(0, c1))

	_, err = os.Stat(c1)
	assert.True(t, os.IsNotExist(err), "committed temp chunk file should be removed")
}
