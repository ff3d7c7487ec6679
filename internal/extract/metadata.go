package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// Meta is descriptive page metadata shown alongside extracted text.
type Meta struct {
	Title    string `json:"title,omitempty"`
	Byline   string `json:"byline,omitempty"`
	SiteName string `json:"site_name,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// Metadata reads title, byline, site name and excerpt from markup using
// readability, falling back to the <title> element for the title.
func Metadata(markup, pageURL string) (Meta, error) {
	if strings.TrimSpace(markup) == "" {
		return Meta{}, fmt.Errorf("%w: empty document", ErrNoContent)
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return Meta{}, fmt.Errorf("parse page url: %w", err)
	}

	var meta Meta
	article, err := readability.FromReader(strings.NewReader(markup), parsed)
	if err == nil {
		meta = Meta{
			Title:    Collapse(article.Title),
			Byline:   Collapse(article.Byline),
			SiteName: Collapse(article.SiteName),
			Excerpt:  Collapse(article.Excerpt),
		}
	}
	if meta.Title == "" {
		if doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(markup)); docErr == nil {
			meta.Title = Collapse(doc.Find("title").First().Text())
		}
	}
	if err != nil && meta.Title == "" {
		return Meta{}, fmt.Errorf("readability: %w", err)
	}
	return meta, nil
}

// Links returns up to limit absolute http(s) link targets from markup, in
// document order and without duplicates, plus the total number found.
func Links(markup, pageURL string, limit int) ([]string, int) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, 0
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, 0
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		key := abs.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, key)
	})
	total := len(links)
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, total
}
