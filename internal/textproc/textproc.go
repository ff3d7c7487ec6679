// Package textproc turns extracted page text into cleaned sentence documents
// for topic modelling.
package textproc

import (
	"regexp"
	"strings"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
	"github.com/blevesearch/segment"
)

// DefaultMinTokens is the word count a sentence must exceed to be kept.
const DefaultMinTokens = 5

var whitespace = regexp.MustCompile(`\s+`)

// Cleaner splits text into sentences and reduces each to stemmed content words.
type Cleaner struct {
	MinTokens int
	Stem      bool
	StopWords map[string]struct{}
}

// NewCleaner returns a Cleaner with the English stop-word list and stemming on.
func NewCleaner() *Cleaner {
	return &Cleaner{MinTokens: DefaultMinTokens, Stem: true, StopWords: EnglishStopWords()}
}

// Clean runs the default Cleaner.
func Clean(text string) []string {
	return NewCleaner().Clean(text)
}

// Clean returns one document per sentence with more than MinTokens words.
// Each document is the space-joined, lower-cased, alphabetic, non-stop-word
// tokens of the sentence. Sentences that reduce to nothing are dropped.
func (c *Cleaner) Clean(text string) []string {
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if text == "" {
		return nil
	}
	minTokens := c.MinTokens
	if minTokens <= 0 {
		minTokens = DefaultMinTokens
	}

	var docs []string
	var kept []string
	words := 0
	flush := func() {
		if words > minTokens && len(kept) > 0 {
			docs = append(docs, strings.Join(kept, " "))
		}
		kept = kept[:0]
		words = 0
	}

	seg := segment.NewWordSegmenterDirect([]byte(text))
	for seg.Segment() {
		token := seg.Text()
		switch seg.Type() {
		case segment.Letter, segment.Kana, segment.Ideo:
			words++
			if term, ok := c.term(token); ok {
				kept = append(kept, term)
			}
		case segment.Number:
			words++
		default:
			if endsSentence(token) {
				flush()
			}
		}
	}
	flush()
	return docs
}

// Tokens returns the cleaned terms of text without sentence splitting.
func (c *Cleaner) Tokens(text string) []string {
	var out []string
	seg := segment.NewWordSegmenterDirect([]byte(text))
	for seg.Segment() {
		switch seg.Type() {
		case segment.Letter, segment.Kana, segment.Ideo:
			if term, ok := c.term(seg.Text()); ok {
				out = append(out, term)
			}
		}
	}
	return out
}

func (c *Cleaner) term(token string) (string, bool) {
	lower := strings.ToLower(token)
	if !alphabetic(lower) {
		return "", false
	}
	if _, stop := c.StopWords[lower]; stop {
		return "", false
	}
	if c.Stem {
		lower = porterstemmer.StemString(lower)
	}
	if lower == "" {
		return "", false
	}
	return lower, true
}

// alphabetic rejects tokens such as contractions that carry punctuation.
func alphabetic(s string) bool {
	for _, r := range s {
		if r == '\'' || r == '’' || r == '.' || r == '_' {
			return false
		}
	}
	return s != ""
}

func endsSentence(token string) bool {
	return strings.ContainsAny(token, ".!?")
}
