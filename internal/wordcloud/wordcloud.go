// Package wordcloud renders topics as lightweight HTML word clouds and a
// standalone report page.
package wordcloud

import (
	"fmt"
	"hash/fnv"
	"html"
	"strings"

	"github.com/iantaiahn/topicscraper/internal/topics"
)

// MaxWords caps the terms drawn per cloud.
const MaxWords = 20

const (
	minFontPx  = 12
	fontSpanPx = 24
	minOpacity = 0.6
)

// Key names the cloud of a topic in the map returned by HTML.
func Key(id int) string {
	return fmt.Sprintf("topic_%d", id)
}

// HTML returns one cloud per topic keyed by Key(topic.ID). Font size scales
// from 12px to 36px and opacity from 0.6 to 1.0 with the term score relative
// to the topic's heaviest term.
func HTML(ts []topics.Topic) map[string]string {
	clouds := make(map[string]string, len(ts))
	for _, t := range ts {
		clouds[Key(t.ID)] = Cloud(t.Terms)
	}
	return clouds
}

// Cloud renders a single cloud.
func Cloud(terms []topics.Term) string {
	maxScore := 0.0
	for _, term := range terms {
		maxScore = max(maxScore, term.Score)
	}
	if maxScore <= 0 {
		maxScore = 1
	}

	words := make([]string, 0, min(len(terms), MaxWords))
	for i, term := range terms {
		if i == MaxWords {
			break
		}
		ratio := term.Score / maxScore
		words = append(words, fmt.Sprintf(
			`<span style="font-size: %dpx; opacity: %.2f; margin: 2px; color: hsl(%d, 70%%, 50%%);">%s</span>`,
			minFontPx+int(ratio*fontSpanPx),
			minOpacity+ratio*(1-minOpacity),
			Hue(term.Word),
			html.EscapeString(term.Word),
		))
	}
	return `<div style="line-height: 1.8;">` + strings.Join(words, " ") + `</div>`
}

// Hue maps a word to a stable colour hue in [0, 360).
func Hue(word string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int(h.Sum32() % 360)
}
