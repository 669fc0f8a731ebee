package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingEmbedder_Deterministic(t *testing.T) {
	e := NewHashingEmbedder(64)

	a, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, 64, e.Dim())
}

func TestHashingEmbedder_Normalized(t *testing.T) {
	e := NewHashingEmbedder(32)

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashingEmbedder_EmptyText(t *testing.T) {
	e := NewHashingEmbedder(16)

	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestHashingEmbedder_CaseInsensitive(t *testing.T) {
	e := NewHashingEmbedder(64)

	a, _ := e.Embed(context.Background(), "Hello World")
	b, _ := e.Embed(context.Background(), "hello world")
	assert.Equal(t, a, b)
}

func TestHashingEmbedder_SimilarTextScoresHigher(t *testing.T) {
	e := NewHashingEmbedder(128)

	query, _ := e.Embed(context.Background(), "database connection pooling")
	close1, _ := e.Embed(context.Background(), "connection pooling for the database layer")
	far, _ := e.Embed(context.Background(), "banana bread recipe with walnuts")

	assert.Greater(t, cosineSimilarity(query, close1), cosineSimilarity(query, far))
}
