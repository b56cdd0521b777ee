package compat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/companionstore/internal/vector"
)

func newChroma(t *testing.T) *Chroma {
	t.Helper()
	store, err := vector.Open(nil, vector.Options{EmbeddingDim: 2})
	require.NoError(t, err)
	return NewChroma(store, NewExecutor(4))
}

func TestChromaCollections(t *testing.T) {
	ctx := context.Background()
	c := newChroma(t)

	beat, err := c.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Positive(t, beat)

	col, err := c.CreateCollection(ctx, "memories", map[string]any{"hnsw:space": "cosine"})
	require.NoError(t, err)
	assert.Equal(t, "memories", col.Name)
	assert.NotEmpty(t, col.ID)
	assert.Equal(t, map[string]any{"hnsw:space": "cosine"}, col.Metadata)

	_, err = c.CreateCollection(ctx, "memories", nil)
	assert.ErrorIs(t, err, vector.ErrAlreadyExists)

	_, err = c.CreateCollection(ctx, "bad", map[string]any{"nested": map[string]any{}})
	assert.ErrorIs(t, err, vector.ErrInvalidMetadata)

	same, err := c.GetOrCreateCollection(ctx, "memories", map[string]any{"ignored": true})
	require.NoError(t, err)
	assert.Equal(t, col.ID, same.ID)

	fresh, err := c.GetOrCreateCollection(ctx, "facts", nil)
	require.NoError(t, err)
	assert.NotEqual(t, col.ID, fresh.ID)

	got, err := c.GetCollection(ctx, "facts")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)

	_, err = c.GetCollection(ctx, "missing")
	assert.ErrorIs(t, err, vector.ErrNotFound)

	all, err := c.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "facts", all[0].Name)
	assert.Equal(t, "memories", all[1].Name)

	require.NoError(t, c.DeleteCollection(ctx, "facts"))
	assert.ErrorIs(t, c.DeleteCollection(ctx, "facts"), vector.ErrNotFound)
}

func TestChromaAddQueryGet(t *testing.T) {
	ctx := context.Background()
	c := newChroma(t)
	col, err := c.GetOrCreateCollection(ctx, "mem", nil)
	require.NoError(t, err)

	ids, err := col.Add(ctx, AddRequest{
		IDs:        []string{"a", "b", "c"},
		Embeddings: [][]float32{{1, 0}, {0, 1}, {1, 1}},
		Documents:  []string{"ocean", "space", "both"},
		Metadatas: []map[string]any{
			{"topic": "marine", "user_id": "u1"},
			{"topic": "space", "user_id": "u1"},
			{"topic": "marine", "user_id": "u2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	n, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := col.Query(ctx, QueryRequest{
		QueryEmbeddings: [][]float32{{1, 0}},
		NResults:        2,
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "c"}}, res.IDs)
	assert.Equal(t, [][]string{{"ocean", "both"}}, res.Documents)
	assert.Equal(t, "marine", res.Metadatas[0][0]["topic"])
	assert.InDelta(t, 0.0, res.Distances[0][0], 1e-9)
	assert.InDelta(t, 1-0.7071067811865476, res.Distances[0][1], 1e-6)
	assert.Nil(t, res.Embeddings)

	res, err = col.Query(ctx, QueryRequest{
		QueryEmbeddings: [][]float32{{1, 0}},
		Where:           map[string]any{"user_id": "u1", "topic": map[string]any{"$ne": "marine"}},
		Include:         []Include{IncludeEmbeddings},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b"}}, res.IDs)
	assert.Equal(t, [][][]float32{{{0, 1}}}, res.Embeddings)
	assert.Nil(t, res.Documents)
	assert.Nil(t, res.Distances)

	_, err = col.Query(ctx, QueryRequest{
		QueryEmbeddings: [][]float32{{1, 0}},
		Where:           map[string]any{"topic": map[string]any{"$regex": "m.*"}},
	})
	assert.ErrorIs(t, err, vector.ErrInvalidFilter)

	_, err = col.Query(ctx, QueryRequest{QueryEmbeddings: [][]float32{{1, 0, 0}}})
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)

	got, err := col.Get(ctx, GetRequest{Where: map[string]any{"topic": map[string]any{"$in": []any{"marine"}}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, got.IDs)
	assert.Equal(t, []string{"ocean", "both"}, got.Documents)
	assert.Nil(t, got.Embeddings)

	got, err = col.Get(ctx, GetRequest{IDs: []string{"c"}, Include: []Include{IncludeEmbeddings}})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}}, got.Embeddings)

	_, err = col.Get(ctx, GetRequest{Include: []Include{IncludeDistances}})
	assert.ErrorIs(t, err, ErrInvalidInclude)

	deleted, err := col.Delete(ctx, "a", "zzz")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestChromaQueryMissingCollection(t *testing.T) {
	ctx := context.Background()
	c := newChroma(t)
	col, err := c.GetOrCreateCollection(ctx, "gone", nil)
	require.NoError(t, err)
	require.NoError(t, c.DeleteCollection(ctx, "gone"))

	res, err := col.Query(ctx, QueryRequest{QueryEmbeddings: [][]float32{{1, 0}, {0, 1}}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{}, {}}, res.IDs)
	assert.Equal(t, [][]float64{{}, {}}, res.Distances)

	n, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChromaAddRejectsBadMetadata(t *testing.T) {
	ctx := context.Background()
	c := newChroma(t)
	col, err := c.GetOrCreateCollection(ctx, "mem", nil)
	require.NoError(t, err)

	_, err = col.Add(ctx, AddRequest{
		Embeddings: [][]float32{{1, 0}},
		Documents:  []string{"x"},
		Metadatas:  []map[string]any{{"bad": []any{1}}},
	})
	assert.ErrorIs(t, err, vector.ErrInvalidMetadata)

	n, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
