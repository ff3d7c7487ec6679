package scraper

import (
	"errors"

	"github.com/iantaiahn/topicscraper/internal/browser"
)

var (
	// ErrInvalidInput marks a malformed or non-http(s) URL. Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSessionCreation marks a browser that could not start.
	ErrSessionCreation = browser.ErrSessionCreation
	// ErrLoadTimeout marks a page that never reached the content bar.
	ErrLoadTimeout = errors.New("page load timed out")
	// ErrLoadFailed marks a fatal automation error.
	ErrLoadFailed = errors.New("page load failed")
	// ErrParse marks markup from which no text could be extracted.
	ErrParse = errors.New("content extraction failed")
	// ErrDisallowed marks a URL the site's robots.txt forbids.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrMemoryExceeded marks a breached memory budget.
	ErrMemoryExceeded = errors.New("memory budget exceeded")
)
