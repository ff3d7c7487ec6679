package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestHasherShort(t *testing.T) {
	t.Parallel()

	got, err := NewShort(16).Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloDigest[:16], got)

	full, err := NewShort(100).Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloDigest, full)
}
