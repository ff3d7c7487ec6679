package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"https", "https://example.com/a?b=c", true},
		{"http upper scheme", "HTTP://example.com", true},
		{"localhost", "http://localhost:8080/x", true},
		{"ipv4", "http://127.0.0.1/", true},
		{"empty", "   ", false},
		{"ftp", "ftp://example.com", false},
		{"no scheme", "example.com", false},
		{"javascript", "javascript:alert(1)", false},
		{"no host", "https:///path", false},
		{"bare word host", "http://intranet/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u, err := ValidateURL(tt.raw)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, []string{"http", "https"}, u.Scheme)
		})
	}
}
