package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. These follow the OWASP low-memory recommendation
// and apply to passwords and recovery codes alike.
const (
	argonMemory      = 19 * 1024 // KiB
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// ErrHashMismatch is returned when a secret does not match its stored hash.
var ErrHashMismatch = errors.New("cryptox: hash mismatch")

// HashSecret derives an Argon2id hash of the given secret with a fresh
// random salt and returns it as a PHC-format string
// ($argon2id$v=19$m=..,t=..,p=..$salt$hash).
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(secret+GetPepper()),
		salt,
		argonIterations,
		argonMemory,
		argonParallelism,
		argonKeyLength,
	)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifySecret compares a plaintext secret against a PHC-format Argon2id
// hash. Returns ErrHashMismatch when the secret does not match, or a
// format error when the stored hash is malformed.
func VerifySecret(secret, encoded string) error {
	salt, expected, params, err := parsePHC(encoded)
	if err != nil {
		return err
	}

	computed := argon2.IDKey(
		[]byte(secret+GetPepper()),
		salt,
		params.iterations,
		params.memory,
		params.parallelism,
		uint32(len(expected)), // #nosec G115 - hash lengths are small
	)

	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		return ErrHashMismatch
	}
	return nil
}

// BurnHash performs one Argon2id computation over a throwaway salt and
// discards the result. Callers use it to equalize response latency on
// code paths where no stored hash exists to compare against, so a missing
// user is indistinguishable from a wrong password by timing.
func BurnHash(secret string) {
	salt := make([]byte, argonSaltLength)
	_, _ = rand.Read(salt)
	_ = argon2.IDKey(
		[]byte(secret+GetPepper()),
		salt,
		argonIterations,
		argonMemory,
		argonParallelism,
		argonKeyLength,
	)
}

type argonParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

// parsePHC splits a $argon2id$v=19$m=X,t=Y,p=Z$salt$hash string into its
// decoded components.
func parsePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := make([]string, 0, 6)
	start := 0
	for i := range len(encoded) {
		if encoded[i] == '$' {
			parts = append(parts, encoded[start:i])
			start = i + 1
		}
	}
	parts = append(parts, encoded[start:])

	if len(parts) != 6 {
		return nil, nil, params, errors.New("cryptox: invalid hash: expected 6 parts")
	}
	if parts[1] != "argon2id" {
		return nil, nil, params, errors.New("cryptox: invalid hash: not argon2id")
	}
	if parts[2] != "v=19" {
		return nil, nil, params, errors.New("cryptox: invalid hash: unsupported version")
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.memory, &params.iterations, &params.parallelism); err != nil {
		return nil, nil, params, fmt.Errorf("cryptox: invalid hash parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("cryptox: invalid hash salt: %w", err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("cryptox: invalid hash digest: %w", err)
	}

	return salt, hash, params, nil
}
