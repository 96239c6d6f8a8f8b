package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevanceIndex_EmptyIndexReturnsNoMatches(t *testing.T) {
	idx, err := NewRelevanceIndex()
	require.NoError(t, err)

	matches, err := idx.SimilarPriorWork(context.Background(), "deploy the billing service", 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRelevanceIndex_RemembersAndFindsSimilarWork(t *testing.T) {
	idx, err := NewRelevanceIndex()
	require.NoError(t, err)

	require.NoError(t, idx.Remember(context.Background(), 1, "deployed the billing service to production"))
	require.NoError(t, idx.Remember(context.Background(), 2, "wrote unit tests for the parser"))

	matches, err := idx.SimilarPriorWork(context.Background(), "deploy billing service", 3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Contains(t, matches[0], "billing")
}

func TestRelevanceIndex_RememberIgnoresBlankSummary(t *testing.T) {
	idx, err := NewRelevanceIndex()
	require.NoError(t, err)
	require.NoError(t, idx.Remember(context.Background(), 1, "   "))

	matches, err := idx.SimilarPriorWork(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestHashEmbedding_IsDeterministic(t *testing.T) {
	a, err := hashEmbedding(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := hashEmbedding(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashEmbedding_EmptyTextIsZeroVector(t *testing.T) {
	vec, err := hashEmbedding(context.Background(), "")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Equal(t, float32(0), v)
	}
}
