package apikeys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesPrefixedKeyAndMatchingHash(t *testing.T) {
	plaintext, hash, err := Generate("sk")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, "sk_"))
	assert.NotEqual(t, plaintext, hash)
	assert.True(t, Verify(plaintext, hash))
}

func TestVerifyRejectsWrongPlaintext(t *testing.T) {
	_, hash, err := Generate("sk")
	require.NoError(t, err)
	assert.False(t, Verify("sk_wrongvalue", hash))
}

func TestLookupPrefixSplitsFromTheRight(t *testing.T) {
	plaintext, _, err := Generate("sk")
	require.NoError(t, err)

	lookup, ok := LookupPrefix(plaintext)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(lookup, "sk_"))
	assert.Len(t, strings.TrimPrefix(lookup, "sk_"), 8)
}

func TestLookupPrefixHandlesPrefixWithUnderscore(t *testing.T) {
	lookup, ok := LookupPrefix("live_sk_abcdefghijklmnop")
	require.True(t, ok)
	assert.Equal(t, "live_sk_abcdefgh", lookup)
}

func TestLookupPrefixRejectsMalformedInput(t *testing.T) {
	_, ok := LookupPrefix("noUnderscoreHere")
	assert.False(t, ok)

	_, ok = LookupPrefix("sk_short")
	assert.False(t, ok)
}
