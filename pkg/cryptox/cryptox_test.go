package cryptox

import (
	"encoding/base64"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(TokenSize384)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	require.Len(t, raw, TokenSize384)

	other, err := GenerateToken(TokenSize384)
	require.NoError(t, err)
	require.NotEqual(t, tok, other)

	_, err = GenerateToken(0)
	require.Error(t, err)
}

func TestFingerprintTokenDeterministic(t *testing.T) {
	t.Parallel()

	fp := FingerprintToken("secret-value")
	require.Equal(t, fp, FingerprintToken("secret-value"))
	require.NotEqual(t, fp, FingerprintToken("secret-valuf"))
	require.Len(t, fp, 43) // base64url(32 bytes), no padding
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$")

	require.NoError(t, VerifyPassword("correct horse battery staple", hash))
	require.ErrorIs(t, VerifyPassword("wrong password", hash), ErrPasswordMismatch)
	require.Error(t, VerifyPassword("anything", "not-a-phc-string"))
}

func TestGenerateNumericCode(t *testing.T) {
	t.Parallel()

	for _, length := range []int{4, 6, 8} {
		code, err := GenerateNumericCode(length)
		require.NoError(t, err)
		require.Len(t, code, length)
		_, err = strconv.Atoi(code)
		require.NoError(t, err)
	}

	_, err := GenerateNumericCode(0)
	require.Error(t, err)
	_, err = GenerateNumericCode(11)
	require.Error(t, err)
}
