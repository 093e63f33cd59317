package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTokenIsDeterministicAndOpaque(t *testing.T) {
	digest := HashToken("nvc_example")
	assert.Equal(t, digest, HashToken("nvc_example"))
	assert.NotEqual(t, "nvc_example", digest)
	assert.True(t, TokensEqual(digest, "nvc_example"))
	assert.False(t, TokensEqual(digest, "nvc_other"))
}

func TestGenerateAPIKeySecret(t *testing.T) {
	first, err := GenerateAPIKeySecret()
	require.NoError(t, err)
	second, err := GenerateAPIKeySecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first, "nvc_"))
	assert.NotEqual(t, first, second)
}

func TestGenerateBackupCode(t *testing.T) {
	code, err := GenerateBackupCode()
	require.NoError(t, err)
	assert.Len(t, code, 8)
}

func TestGenerateNumericCode(t *testing.T) {
	code, err := GenerateNumericCode(6)
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}
