package wordcloud

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iantaiahn/topicscraper/internal/topics"
)

func TestCloudScalesFontAndOpacity(t *testing.T) {
	t.Parallel()

	cloud := Cloud([]topics.Term{{Word: "harbor", Score: 0.8}, {Word: "boat", Score: 0.4}})

	assert.True(t, strings.HasPrefix(cloud, `<div style="line-height: 1.8;">`))
	assert.Contains(t, cloud, `font-size: 36px; opacity: 1.00;`)
	assert.Contains(t, cloud, `font-size: 24px; opacity: 0.80;`)
	assert.Contains(t, cloud, fmt.Sprintf("hsl(%d, 70%%, 50%%)", Hue("harbor")))
	assert.Contains(t, cloud, ">harbor</span>")
}

func TestCloudCapsWordsAndEscapes(t *testing.T) {
	t.Parallel()

	terms := make([]topics.Term, 30)
	for i := range terms {
		terms[i] = topics.Term{Word: fmt.Sprintf("w%d", i), Score: float64(30 - i)}
	}
	terms[0].Word = "<b>"

	cloud := Cloud(terms)
	assert.Equal(t, MaxWords, strings.Count(cloud, "<span"))
	assert.Contains(t, cloud, "&lt;b&gt;")
	assert.NotContains(t, cloud, "w25")
}

func TestCloudZeroScores(t *testing.T) {
	t.Parallel()

	cloud := Cloud([]topics.Term{{Word: "flat"}})
	assert.Contains(t, cloud, "font-size: 12px; opacity: 0.60;")
}

func TestHTMLKeysByTopic(t *testing.T) {
	t.Parallel()

	clouds := HTML([]topics.Topic{{ID: 0, Terms: []topics.Term{{Word: "a", Score: 1}}}, {ID: 3}})
	require.Len(t, clouds, 2)
	assert.Contains(t, clouds, "topic_0")
	assert.Contains(t, clouds, "topic_3")
}

func TestHueStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Hue("harbor"), Hue("harbor"))
	assert.GreaterOrEqual(t, Hue("x"), 0)
	assert.Less(t, Hue("x"), 360)
}

func TestPage(t *testing.T) {
	t.Parallel()

	ts := []topics.Topic{
		{ID: 1, Terms: []topics.Term{{Word: "council", Score: 1}, {Word: "tax", Score: 0.5}}},
		{ID: 0, Terms: []topics.Term{{Word: "harbor", Score: 1}, {Word: "boat", Score: 0.9}, {Word: "fish", Score: 0.5}, {Word: "net", Score: 0.1}}},
	}
	page, err := Page("https://example.com/?q=<x>", HTML(ts), ts, 12)
	require.NoError(t, err)

	assert.Contains(t, page, "Topic 0: harbor • boat • fish")
	assert.Contains(t, page, "Topic 1: council • tax")
	assert.Less(t, strings.Index(page, "Topic 0:"), strings.Index(page, "Topic 1:"))
	assert.Contains(t, page, `<span class="stat-number">12</span>`)
	assert.Contains(t, page, `<span class="stat-number">2</span>`)
	assert.NotContains(t, page, "<x>")
	assert.Contains(t, page, "font-size: 36px")
}
