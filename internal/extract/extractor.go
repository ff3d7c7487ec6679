package extract

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// strippedElements never carry readable content.
const strippedElements = "script, style, noscript, template, nav, header, footer, aside, iframe, " +
	"form, img, picture, video, audio, source, track, svg, canvas, embed, object"

// paragraphElements are aggregated by the paragraph tier.
const paragraphElements = "p, h1, h2, h3, h4, h5, h6, li, blockquote, dt, dd, pre"

// contentSelectors are tried in order by the selector tier.
var contentSelectors = []string{
	"main article",
	"main",
	"article",
	`[role="main"]`,
	"#content",
	"#main-content",
	".main-content",
	".post-content",
	".entry-content",
	".article-content",
	".article-body",
	"#article-body",
	".story-body",
	".post-body",
	".content",
}

// noiseSubstrings are descriptive enough to match anywhere in a class or id
// value.
var noiseSubstrings = []string{
	"advert",
	"adsbygoogle",
	"sponsor",
	"cookie",
	"consent",
	"gdpr",
	"popup",
	"pop-up",
	"newsletter-signup",
	"social",
	"sharing",
}

// noiseWords only match a whole word of a class or id value, where words are
// split on anything that is not a letter or digit. "ad-slot" matches "ad";
// "threads-list" does not match "ads".
var noiseWords = map[string]bool{
	"ad":       true,
	"ads":      true,
	"modal":    true,
	"share":    true,
	"tracking": true,
	"tracker":  true,
}

var protectedElements = map[string]bool{
	"html":    true,
	"body":    true,
	"main":    true,
	"article": true,
}

// Config tunes extraction.
type Config struct {
	// MinChars is the quality bar a tier must exceed.
	MinChars int
	// MinFragmentChars drops shorter paragraph-tier fragments.
	MinFragmentChars int
	// InterruptEvery is how many paragraph elements pass between interrupt polls.
	InterruptEvery int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{MinChars: 100, MinFragmentChars: 20, InterruptEvery: 25}
}

// Extractor applies the tiered extraction rules.
type Extractor struct {
	cfg Config
}

// New builds an Extractor, filling unset thresholds from DefaultConfig.
func New(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.MinChars <= 0 {
		cfg.MinChars = def.MinChars
	}
	if cfg.MinFragmentChars <= 0 {
		cfg.MinFragmentChars = def.MinFragmentChars
	}
	if cfg.InterruptEvery <= 0 {
		cfg.InterruptEvery = def.InterruptEvery
	}
	return &Extractor{cfg: cfg}
}

var defaultExtractor = New(DefaultConfig())

// Extract runs the default extractor.
func Extract(markup string, maxLength int) Content {
	return defaultExtractor.Extract(markup, maxLength, nil)
}

// ExtractInterruptible runs the default extractor with an interrupt poll.
func ExtractInterruptible(markup string, maxLength int, interrupt func() bool) Content {
	return defaultExtractor.Extract(markup, maxLength, interrupt)
}

// Extract returns the readable text of markup, truncated to maxLength runes.
// interrupt, when non-nil, is polled between tiers and during paragraph
// iteration; once it returns true extraction stops and returns what it has
// with Interrupted set. Extract never panics.
func (e *Extractor) Extract(markup string, maxLength int, interrupt func() bool) (content Content) {
	defer func() {
		if r := recover(); r != nil {
			content = Content{Err: fmt.Errorf("%w: extractor panic: %v", ErrNoContent, r)}
		}
	}()
	if interrupt == nil {
		interrupt = func() bool { return false }
	}

	if strings.TrimSpace(markup) == "" {
		return Content{Err: fmt.Errorf("%w: empty document", ErrNoContent)}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Content{Err: fmt.Errorf("%w: parse markup: %w", ErrNoContent, err)}
	}
	if interrupt() {
		return Content{Interrupted: true, Err: fmt.Errorf("%w: interrupted before extraction", ErrNoContent)}
	}

	doc.Find(strippedElements).Remove()
	removeNoise(doc)

	text, tier, interrupted := e.selectText(doc, interrupt)
	return finish(text, tier, interrupted, maxLength)
}

func (e *Extractor) selectText(doc *goquery.Document, interrupt func() bool) (string, Tier, bool) {
	if text := e.bySelector(doc); e.clearsBar(text) {
		return text, TierSelector, false
	}
	if interrupt() {
		return "", TierNone, true
	}

	text, interrupted := e.byParagraphs(doc, interrupt)
	if interrupted {
		return text, TierParagraph, true
	}
	if e.clearsBar(text) {
		return text, TierParagraph, false
	}
	if interrupt() {
		return text, TierParagraph, true
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	var b strings.Builder
	for _, n := range body.Nodes {
		b.WriteString(nodeText(n))
		b.WriteByte(' ')
	}
	return Collapse(b.String()), TierFallback, false
}

// bySelector returns the longest match of the first selector whose longest
// match clears the bar.
func (e *Extractor) bySelector(doc *goquery.Document) string {
	for _, selector := range contentSelectors {
		best := ""
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if text := selectionText(s); utf8.RuneCountInString(text) > utf8.RuneCountInString(best) {
				best = text
			}
		})
		if e.clearsBar(best) {
			return best
		}
	}
	return ""
}

// byParagraphs joins outermost paragraph-like elements that are long enough.
func (e *Extractor) byParagraphs(doc *goquery.Document, interrupt func() bool) (string, bool) {
	var parts []string
	interrupted := false
	doc.Find(paragraphElements).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i > 0 && i%e.cfg.InterruptEvery == 0 && interrupt() {
			interrupted = true
			return false
		}
		if s.ParentsFiltered(paragraphElements).Length() > 0 {
			return true
		}
		text := selectionText(s)
		if utf8.RuneCountInString(text) < e.cfg.MinFragmentChars {
			return true
		}
		parts = append(parts, text)
		return true
	})
	return strings.Join(parts, " "), interrupted
}

func (e *Extractor) clearsBar(text string) bool {
	return text != "" && utf8.RuneCountInString(text) > e.cfg.MinChars
}

func removeNoise(doc *goquery.Document) {
	doc.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		if protectedElements[goquery.NodeName(s)] {
			return
		}
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if isNoise(class) || isNoise(id) {
			s.Remove()
		}
	})
}

func isNoise(value string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, pattern := range noiseSubstrings {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if noiseWords[w] {
			return true
		}
	}
	return false
}

func selectionText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		b.WriteString(nodeText(n))
		b.WriteByte(' ')
	}
	return Collapse(b.String())
}

func finish(text string, tier Tier, interrupted bool, maxLength int) Content {
	text = Collapse(text)
	if text == "" {
		err := fmt.Errorf("%w: no tier produced text", ErrNoContent)
		if interrupted {
			err = fmt.Errorf("%w: interrupted before any text was collected", ErrNoContent)
		}
		return Content{Tier: TierNone, Interrupted: interrupted, Err: err}
	}
	clipped, truncated := Truncate(text, maxLength)
	return Content{
		Text:        clipped,
		Length:      utf8.RuneCountInString(clipped),
		Truncated:   truncated,
		Tier:        tier,
		Interrupted: interrupted,
	}
}
