package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestHasherKeySeparatesParts(t *testing.T) {
	t.Parallel()

	h := New()
	a := h.Key("article-1", "integration-2")
	require.Len(t, a, 32)
	require.Equal(t, a, h.Key("article-1", "integration-2"))
	require.NotEqual(t, a, h.Key("article-1integration-2"))
	require.NotEqual(t, a, h.Key("article-1", "integration-3"))
}
