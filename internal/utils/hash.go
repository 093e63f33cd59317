package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const apiKeyPrefix = "nvc_"

func GenerateRandomToken(size int) (string, error) {
	buffer := make([]byte, size)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TokensEqual(digest string, token string) bool {
	return subtle.ConstantTimeCompare([]byte(digest), []byte(HashToken(token))) == 1
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GenerateAPIKeySecret returns opaque key material with a recognizable
// prefix so leaked keys can be found by scanners.
func GenerateAPIKeySecret() (string, error) {
	token, err := GenerateRandomToken(32)
	if err != nil {
		return "", err
	}
	return apiKeyPrefix + token, nil
}

// GenerateBackupCode returns a short single-use recovery code. Eight hex
// characters keeps the codes typeable from a printout.
func GenerateBackupCode() (string, error) {
	buffer := make([]byte, 4)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}

// GenerateNumericCode returns a zero-padded numeric code for email delivery.
func GenerateNumericCode(digits int) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < digits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
