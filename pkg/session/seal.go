package session

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/openfront-platform/openfront-oauth/pkg/encryption"
	"golang.org/x/crypto/hkdf"
)

// HKDF info strings separating the keys derived from the session secret
const (
	signingKeyInfo    = "openfront-oauth session signing"
	encryptionKeyInfo = "openfront-oauth session encryption"
)

// DefaultSessionTTL is the lifetime of a sealed session
const DefaultSessionTTL = 30 * 24 * time.Hour

// Claims is the payload of a sealed session
type Claims struct {
	jwt.RegisteredClaims
}

// Sealer signs session payloads as HS256 JWTs and then encrypts them with
// AES-GCM, so the blob is both tamper proof and opaque.
type Sealer struct {
	signingKey    []byte
	encryptionKey []byte
}

// NewSealer creates a sealer. secret must be 16, 24 or 32 bytes. The HMAC
// and AES keys are derived from it separately with HKDF-SHA256; the AES
// key has the length of the secret.
func NewSealer(secret []byte) (*Sealer, error) {
	switch len(secret) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("session secret must be 16, 24 or 32 bytes, got %d", len(secret))
	}

	signingKey, err := deriveKey(secret, signingKeyInfo, sha256.Size)
	if err != nil {
		return nil, err
	}
	encryptionKey, err := deriveKey(secret, encryptionKeyInfo, len(secret))
	if err != nil {
		return nil, err
	}
	return &Sealer{
		signingKey:    signingKey,
		encryptionKey: encryptionKey,
	}, nil
}

func deriveKey(secret []byte, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return key, nil
}

// Seal produces an opaque session token for principalID valid for ttl
func (s *Sealer) Seal(principalID string, ttl time.Duration) (string, error) {
	if principalID == "" {
		return "", errors.New("principal ID is required")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}

	sealed, err := encryption.Encrypt(s.encryptionKey, []byte(signed))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unseal validates a token produced by Seal and returns its principal ID
func (s *Sealer) Unseal(token string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("failed to decode session: %w", err)
	}

	signed, err := encryption.Decrypt(s.encryptionKey, sealed)
	if err != nil {
		return "", err
	}

	parsed, err := jwt.ParseWithClaims(string(signed), &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse session: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid session claims")
	}
	return claims.Subject, nil
}
