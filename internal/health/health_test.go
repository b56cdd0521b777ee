package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/companionstore/internal/cache"
	"github.com/jeanpaul/companionstore/internal/compat"
	"github.com/jeanpaul/companionstore/internal/persist"
	"github.com/jeanpaul/companionstore/internal/vector"
)

func TestCheckAllHealthy(t *testing.T) {
	dir := t.TempDir()
	pm, err := persist.NewManager(dir)
	require.NoError(t, err)

	cs, err := cache.Open(pm, cache.Options{})
	require.NoError(t, err)
	cs.Set("k", "v", 0)
	vs, err := vector.Open(pm, vector.Options{EmbeddingDim: 2})
	require.NoError(t, err)
	_, err = vs.AddDocuments("c", []string{"a"}, [][]float32{{1, 0}}, nil, nil)
	require.NoError(t, err)

	exec := compat.NewExecutor(2)
	statuses := Check(context.Background(), Targets{
		Storage: pm,
		Redis:   compat.NewRedis(cs, exec),
		Chroma:  compat.NewChroma(vs, exec),
	})
	require.Len(t, statuses, 3)
	assert.True(t, Healthy(statuses))

	assert.Equal(t, "storage", statuses[0].Component)
	assert.Equal(t, []string{"1 keys"}, statuses[1].Details)
	assert.Equal(t, []string{"1 collections, 1 documents"}, statuses[2].Details)
	for _, s := range statuses {
		assert.Empty(t, s.Error, s.Component)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file is cleaned up")
}

func TestCheckStorageUnwritable(t *testing.T) {
	dir := t.TempDir()
	pm, err := persist.NewManager(dir)
	require.NoError(t, err)

	// a directory where the probe file should go makes the rename fail
	probe, err := pm.Path(probeUnit)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(probe, "child"), 0o755))

	s := CheckStorage(pm)
	assert.False(t, s.Healthy)
	assert.NotEmpty(t, s.Error)
	assert.False(t, Healthy([]Status{s}))
}

func TestCheckSkipsNilTargets(t *testing.T) {
	assert.Empty(t, Check(context.Background(), Targets{}))
	assert.True(t, Healthy(nil))
}

func TestFriendlyError(t *testing.T) {
	assert.Equal(t, "timed out (store may be busy)", friendlyError(context.DeadlineExceeded))
	assert.Equal(t, "disk full", friendlyError(errors.New("write: no space left on device")))
	assert.Equal(t, "other", friendlyError(errors.New("other")))
}
