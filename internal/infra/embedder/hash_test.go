package embedder

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/domain/entity"
	"uplink/internal/usecase/search"
)

func TestNewHash_DefaultDimension(t *testing.T) {
	assert.Equal(t, DefaultHashDimension, NewHash(0).Dimension())
	assert.Equal(t, 32, NewHash(32).Dimension())
	assert.Equal(t, "hash", NewHash(8).Name())
}

func TestHash_Embed_DeterministicAndNormalized(t *testing.T) {
	h := NewHash(64)
	ctx := context.Background()

	a, err := h.Embed(ctx, "Central bank holds rates steady")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "Central bank holds rates steady")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHash_Embed_CaseAndPunctuationInsensitive(t *testing.T) {
	h := NewHash(64)
	ctx := context.Background()

	a, err := h.Embed(ctx, "Rates, steady!")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "rates steady")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHash_Embed_SharedWordsAreCloser(t *testing.T) {
	h := NewHash(DefaultHashDimension)
	ctx := context.Background()

	query, err := h.Embed(ctx, "central bank interest rates")
	require.NoError(t, err)
	related, err := h.Embed(ctx, "the central bank raised interest rates again")
	require.NoError(t, err)
	unrelated, err := h.Embed(ctx, "football club wins championship final")
	require.NoError(t, err)

	assert.Greater(t,
		search.CosineSimilarity(query, related),
		search.CosineSimilarity(query, unrelated))
}

func TestHash_Embed_Errors(t *testing.T) {
	h := NewHash(16)

	_, err := h.Embed(context.Background(), "  ... !!! ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrEmbedding))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Embed(ctx, "text")
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrEmbedding))
	assert.True(t, errors.Is(err, context.Canceled))
}
