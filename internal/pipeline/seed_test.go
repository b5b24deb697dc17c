package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportDir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(seed, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "a.png"), pngBytes(t, 8, 8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "nested", "b.PNG"), pngBytes(t, 8, 8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "notes.txt"), []byte("skip me"), 0o644))

	n, err := f.proc.ImportDir(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.index.Len())

	// 再次导入时已存在的文件名被跳过
	n, err = f.proc.ImportDir(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, f.index.Len())
}

func TestImportDirMissing(t *testing.T) {
	f := newFixture(t)

	n, err := f.proc.ImportDir(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportDirCountsFailures(t *testing.T) {
	f := newFixture(t)
	seed := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seed, "good.png"), pngBytes(t, 8, 8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "bad.jpg"), []byte("not an image"), 0o644))

	n, err := f.proc.ImportDir(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.index.Len())
}
