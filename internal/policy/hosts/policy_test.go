package hosts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyPatterns(t *testing.T) {
	t.Parallel()

	p := New(Config{Blocked: []string{"example.org", "*.ru", ".internal.net", "  ", "*."}})

	cases := []struct {
		host    string
		blocked bool
	}{
		{"example.org", true},
		{"EXAMPLE.org.", true},
		{"sub.example.org", false},
		{"example.ru", true},
		{"sub.domain.ru", true},
		{"ru", true},
		{"api.internal.net", true},
		{"example.com", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.blocked, p.IsBlocked(tc.host), tc.host)
	}
}

func TestPolicyPrivateAddresses(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	for _, host := range []string{"localhost", "app.localhost", "127.0.0.1", "10.1.2.3", "192.168.0.10", "169.254.169.254", "::1", "0.0.0.0", "::ffff:127.0.0.1"} {
		assert.True(t, p.IsBlocked(host), host)
	}
	assert.False(t, p.IsBlocked("93.184.216.34"))

	open := New(Config{AllowPrivate: true})
	assert.False(t, open.IsBlocked("127.0.0.1"))
}

func TestPolicyCheck(t *testing.T) {
	t.Parallel()

	p := New(Config{Blocked: []string{"*.example.org"}})
	require.NoError(t, p.Check("https://example.com/news"))
	require.ErrorIs(t, p.Check("https://www.example.org/"), ErrBlocked)
	require.ErrorIs(t, p.Check("http://[::1]:8080/"), ErrBlocked)
	require.Error(t, p.Check("http://%zz"))

	var nilPolicy *Policy
	require.NoError(t, nilPolicy.Check("http://127.0.0.1"))
}
