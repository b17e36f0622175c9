package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Embed_ReturnsConfiguredDimensions(t *testing.T) {
	for _, dims := range []int{0, 64, 768} {
		e := NewStaticEmbedder(dims)
		v, err := e.Embed(context.Background(), "refund policy")
		require.NoError(t, err)

		want := dims
		if want == 0 {
			want = DefaultDimensions
		}
		assert.Len(t, v, want)
		assert.Equal(t, want, e.Dimensions())
	}
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	e := NewStaticEmbedder(256)
	v, err := e.Embed(context.Background(), "Customers may request a refund within 30 days.")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorMagnitude(v), 0.001)
}

func TestStaticEmbedder_Embed_IsDeterministicAcrossInstances(t *testing.T) {
	text := "shipping times vary by region"
	a, err := NewStaticEmbedder(256).Embed(context.Background(), text)
	require.NoError(t, err)
	b, err := NewStaticEmbedder(256).Embed(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewStaticEmbedder(512)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "refund policy")
	related, _ := e.Embed(ctx, "Our refund policy allows returns within 30 days")
	unrelated, _ := e.Embed(ctx, "The office is closed on public holidays")

	assert.Greater(t, cosineSimilarity(query, related), cosineSimilarity(query, unrelated))
}

func TestStaticEmbedder_BlankInputIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder(32)
	for _, in := range []string{"", "   \n\t"} {
		v, err := e.Embed(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, make([]float32, 32), v)
	}
}

func TestStaticEmbedder_StopWordsIgnored(t *testing.T) {
	assert.Equal(t, []string{"refund", "policy"}, tokenize("What is the refund policy?"))
}

func TestStaticEmbedder_EmbedBatch_PreservesOrder(t *testing.T) {
	e := NewStaticEmbedder(64)
	ctx := context.Background()
	texts := []string{"alpha", "", "gamma"}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, _ := e.Embed(ctx, text)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_Close(t *testing.T) {
	e := NewStaticEmbedder(8)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.False(t, e.Available(context.Background()))
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
}
