package topics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeat(doc string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = doc
	}
	return out
}

func TestModelNoDocuments(t *testing.T) {
	t.Parallel()

	_, err := Model(nil, Config{})
	require.ErrorIs(t, err, ErrNotEnoughDocuments)

	_, err = Model([]string{"", "   "}, Config{})
	require.ErrorIs(t, err, ErrNotEnoughDocuments)
}

func TestModelSeparatesGroups(t *testing.T) {
	t.Parallel()

	docs := append(repeat("harbor boat fish", 3), repeat("council budget tax", 3)...)
	got, err := Model(docs, Config{Clusters: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)

	words := map[string]int{}
	for i, topic := range got {
		assert.Equal(t, i, topic.ID)
		assert.Equal(t, 3, topic.Documents)
		require.Len(t, topic.Terms, 3)
		for _, term := range topic.Terms {
			words[term.Word] = topic.ID
			assert.Positive(t, term.Score)
		}
	}
	assert.Equal(t, words["harbor"], words["fish"])
	assert.Equal(t, words["council"], words["tax"])
	assert.NotEqual(t, words["harbor"], words["council"])
}

func TestModelShrinksClusters(t *testing.T) {
	t.Parallel()

	got, err := Model(repeat("same words here", 4), Config{Clusters: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Documents)

	got, err = Model([]string{"alpha beta", "gamma delta"}, Config{Clusters: 5})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), 2)
}

func TestModelDeterministic(t *testing.T) {
	t.Parallel()

	docs := []string{
		"harbor boat fish net", "harbor boat sea fish", "boat fish harbor tide",
		"budget council vote tax", "council tax budget law", "vote council budget tax",
		"rain storm wind coast", "storm coast wind flood",
	}
	cfg := Config{Clusters: 3, Seed: 7}
	first, err := Model(docs, cfg)
	require.NoError(t, err)
	second, err := Model(docs, cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	total := 0
	for _, topic := range first {
		total += topic.Documents
	}
	assert.Equal(t, len(docs), total)
}

func TestModelTopTermsLimitAndOrder(t *testing.T) {
	t.Parallel()

	got, err := Model([]string{"a a a b b c d e f g"}, Config{Clusters: 1, TopTerms: 3})
	require.NoError(t, err)
	require.Len(t, got, 1)
	terms := got[0].Terms
	require.Len(t, terms, 3)
	assert.Equal(t, "a", terms[0].Word)
	assert.Equal(t, "b", terms[1].Word)
	assert.GreaterOrEqual(t, terms[0].Score, terms[1].Score)
}

func TestModelMaxFeatures(t *testing.T) {
	t.Parallel()

	got, err := Model([]string{"keep keep keep drop", "keep other"}, Config{Clusters: 1, MaxFeatures: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Terms, 1)
	assert.Equal(t, "keep", got[0].Terms[0].Word)
}

func TestTopicLabel(t *testing.T) {
	t.Parallel()

	topic := Topic{Terms: []Term{{Word: "harbor"}, {Word: "boat"}, {Word: "fish"}, {Word: "net"}}}
	assert.Equal(t, "harbor • boat • fish", topic.Label(3))
	assert.Equal(t, 1, strings.Count(Topic{Terms: topic.Terms[:2]}.Label(3), "•"))
}
