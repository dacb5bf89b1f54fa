package encryption

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// GenerateRandomHex generates length random bytes, hex encoded.
func GenerateRandomHex(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Errorf("failed to generate random string: %w", err))
	}
	return hex.EncodeToString(bytes)
}

// GenerateToken returns a new opaque credential: 32 random bytes as 64 hex chars
func GenerateToken() string {
	return GenerateRandomHex(32)
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// maxUnbiased is the largest multiple of len(alphanumeric) that fits in a
// byte. Bytes at or above it are discarded.
const maxUnbiased = 256 - 256%len(alphanumeric)

// GenerateAlphanumeric returns n uniformly random characters from [a-z0-9]
func GenerateAlphanumeric(n int) string {
	s, err := alphanumericFrom(rand.Reader, n)
	if err != nil {
		panic(fmt.Errorf("failed to generate random string: %w", err))
	}
	return s
}

func alphanumericFrom(r io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
