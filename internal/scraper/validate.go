package scraper

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL accepts absolute http and https URLs whose host looks like a
// domain or address.
func ValidateURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: url is empty", ErrInvalidInput)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: url must start with http:// or https://", ErrInvalidInput)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: url has no host", ErrInvalidInput)
	}
	if !strings.Contains(host, ".") && !strings.Contains(host, ":") && host != "localhost" {
		return nil, fmt.Errorf("%w: host %q is not a domain", ErrInvalidInput, host)
	}
	u.Scheme = scheme
	return u, nil
}
