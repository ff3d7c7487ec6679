package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harbor = "The harbor was quiet at dawn and boats rested on still water.\n\n Short one. " +
	"Fishermen   mended their nets while gulls circled over the pier!"

func TestCleanSplitsSentencesAndDropsStopWords(t *testing.T) {
	t.Parallel()

	c := NewCleaner()
	c.Stem = false
	docs := c.Clean(harbor)

	require.Len(t, docs, 2)
	assert.Equal(t, "harbor quiet dawn boats rested water", docs[0])
	assert.Equal(t, "fishermen mended nets gulls circled pier", docs[1])
}

func TestCleanStems(t *testing.T) {
	t.Parallel()

	docs := Clean("Running cats connected quickly across seven wooden bridges today.")
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0], "run")
	assert.Contains(t, docs[0], "cat")
	assert.Contains(t, docs[0], "connect")
	assert.NotContains(t, docs[0], "running")
}

func TestCleanShortSentencesDropped(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Clean("Too short. Also short! Five words are not enough."))
	assert.Nil(t, Clean("   \n\t "))
}

func TestCleanIgnoresNumbersAndContractions(t *testing.T) {
	t.Parallel()

	c := NewCleaner()
	c.Stem = false
	docs := c.Clean("In 2024 the council didn't approve 3 budgets for harbor repairs.")
	require.Len(t, docs, 1)
	assert.Equal(t, "council approve budgets harbor repairs", docs[0])
}

func TestTokens(t *testing.T) {
	t.Parallel()

	c := NewCleaner()
	c.Stem = false
	assert.Equal(t, []string{"gulls", "circled", "pier"}, c.Tokens("The gulls circled the pier."))
}

func TestEnglishStopWordsFresh(t *testing.T) {
	t.Parallel()

	a := EnglishStopWords()
	delete(a, "the")
	_, ok := EnglishStopWords()["the"]
	assert.True(t, ok)
}
