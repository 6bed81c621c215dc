package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgeway/qualify/core/blocklist"
	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/core/writer"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessBatchClassifiesAndWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	inputPath := writeTempFile(t, dir, "in.txt", ""+
		"alice@example.com\n"+
		"bob@blocked.example\n"+
		"not-an-address\n"+
		"# a comment\n"+
		"\n")

	bl := blocklist.New(0, nil)
	require.NoError(t, bl.AddDomain(context.Background(), "blocked.example", "test"))

	outDir := filepath.Join(dir, "out")
	w := writer.New(outDir, nil)

	p := New(bl, nil, nil, w, nil, Options{OutputPrefix: "test"})

	result, err := p.ProcessBatch(context.Background(), []string{inputPath}, domain.ProcessOptions{
		WriteOutputs: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Files, 1)

	assert.Equal(t, 1, result.Totals.Clean)
	assert.Equal(t, 1, result.Totals.BlockedDomain)
	assert.Equal(t, 1, result.Totals.Invalid)
	assert.False(t, result.Cancelled)
	assert.False(t, result.PartialFailure)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestProcessBatchCancellationSkipsOutputs(t *testing.T) {
	dir := t.TempDir()
	inputPath := writeTempFile(t, dir, "in.txt", "alice@example.com\n")

	outDir := filepath.Join(dir, "out")
	w := writer.New(outDir, nil)
	p := New(blocklist.New(0, nil), nil, nil, w, nil, Options{OutputPrefix: "test"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.ProcessBatch(ctx, []string{inputPath}, domain.ProcessOptions{WriteOutputs: true})
	require.NoError(t, err)
	assert.True(t, result.Cancelled)

	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessBatchSkipsCachedFile(t *testing.T) {
	dir := t.TempDir()
	inputPath := writeTempFile(t, dir, "in.txt", "alice@example.com\n")

	fileStore := newFakeFileStore()
	c := newTestCache(t, fileStore)

	p := New(blocklist.New(0, nil), nil, c, nil, nil, Options{})

	result, err := p.ProcessBatch(context.Background(), []string{inputPath}, domain.ProcessOptions{SkipIfCached: true})
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.Equal(t, domain.FileStatusOK, result.Files[0].Status)

	result2, err := p.ProcessBatch(context.Background(), []string{inputPath}, domain.ProcessOptions{SkipIfCached: true})
	require.NoError(t, err)
	require.Len(t, result2.Files, 1)
	assert.Equal(t, domain.FileStatusSkippedCached, result2.Files[0].Status)
}
