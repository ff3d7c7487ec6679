// Package hosts decides which page hosts the service may fetch.
package hosts

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"slices"
	"strings"
)

// ErrBlocked is returned for URLs whose host is not allowed.
var ErrBlocked = errors.New("host is blocked")

// Config lists blocked host patterns. "example.org" matches only that host;
// "*.example.org" and ".example.org" also match every subdomain.
type Config struct {
	Blocked      []string `mapstructure:"blocked"`
	AllowPrivate bool     `mapstructure:"allow_private"`
}

// Policy matches hosts against the configured patterns. Unless AllowPrivate
// is set it also refuses loopback, private and link-local addresses and
// "localhost", so submitted URLs cannot reach the service's own network.
type Policy struct {
	exact        map[string]struct{}
	suffixes     []string
	allowPrivate bool
}

// New compiles the patterns.
func New(cfg Config) *Policy {
	p := &Policy{exact: make(map[string]struct{}), allowPrivate: cfg.AllowPrivate}
	for _, raw := range cfg.Blocked {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(p.suffixes, suffix) {
		return
	}
	p.suffixes = append(p.suffixes, suffix)
}

// IsBlocked reports whether host matches a pattern or is a private address.
func (p *Policy) IsBlocked(host string) bool {
	if p == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if !p.allowPrivate && private(host) {
		return true
	}
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Check returns ErrBlocked when rawURL's host is not allowed.
func (p *Policy) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if p.IsBlocked(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrBlocked, u.Hostname())
	}
	return nil
}

func private(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
