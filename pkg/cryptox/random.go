package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// Token size constants (bytes of entropy before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateToken returns a cryptographically secure random token of the
// given byte length, encoded base64url without padding. Used for opaque
// identifiers such as browser session IDs.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("cryptox: token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateAlphanumeric returns a random string of length n drawn uniformly
// from [a-zA-Z0-9]. Used for recovery codes and signature challenges where
// the value must survive manual transcription.
func GenerateAlphanumeric(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("cryptox: length must be positive, got %d", n)
	}

	out := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("cryptox: failed to generate random string: %w", err)
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out), nil
}
