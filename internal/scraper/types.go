// Package scraper fetches one URL end to end: launch a browser session, load
// the page, read the markup, release the session and extract readable text,
// all under a per-fetch memory budget.
package scraper

import (
	"time"

	"github.com/iantaiahn/topicscraper/internal/extract"
	"github.com/iantaiahn/topicscraper/internal/loader"
)

// ProgressFunc receives coarse progress updates during a fetch.
type ProgressFunc func(percent int, message string)

// Request is the immutable input to one fetch.
type Request struct {
	URL              string
	Headless         bool
	MemoryLimitMB    float64
	MaxContentLength int
	Progress         ProgressFunc
}

// Kind tags the variant of an Outcome.
type Kind int

const (
	// KindSuccess carries extracted content.
	KindSuccess Kind = iota
	// KindTimeout means no strategy reached the content bar in time.
	KindTimeout
	// KindError covers invalid input, launch failures, fatal load errors and parse failures.
	KindError
	// KindMemoryExceeded means the memory budget stopped the fetch.
	KindMemoryExceeded
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindMemoryExceeded:
		return "memory_exceeded"
	default:
		return "error"
	}
}

// Page describes the document behind a successful fetch.
type Page struct {
	Title      string   `json:"title,omitempty"`
	Byline     string   `json:"byline,omitempty"`
	SiteName   string   `json:"site_name,omitempty"`
	Excerpt    string   `json:"excerpt,omitempty"`
	FinalURL   string   `json:"final_url,omitempty"`
	StatusCode int      `json:"status_code,omitempty"`
	HTMLLength int      `json:"html_length"`
	Links      []string `json:"links,omitempty"`
	LinksCount int      `json:"links_count"`
}

// Outcome is the sole result of a fetch. Content is set only for
// KindSuccess; Err wraps exactly one package sentinel otherwise.
type Outcome struct {
	Kind         Kind
	Content      extract.Content
	Message      string
	Err          error
	Page         Page
	Attempts     []loader.Attempt
	PeakMemoryMB float64
	Duration     time.Duration
	// Static is set when the text came from a plain HTTP fetch.
	Static bool
}

// OK reports whether the fetch produced content.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}
