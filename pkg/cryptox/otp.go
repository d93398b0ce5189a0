package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// GenerateNumericCode returns a zero-padded random numeric code of the given
// length, suitable for out-of-band verification challenges.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 || length > 10 {
		return "", fmt.Errorf("code length out of range: %d", length)
	}

	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	return fmt.Sprintf("%0*d", length, n), nil
}
