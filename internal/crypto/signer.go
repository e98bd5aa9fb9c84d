package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// signaturePrefix is the marketplace's required prefix on the request
// signature header value.
const signaturePrefix = "dmar ed25519 "

// Signer produces the ed25519 request signatures the marketplace API
// requires on every authenticated call.
type Signer struct {
	publicKey  string
	privateKey ed25519.PrivateKey
}

// NewSigner creates a Signer from the hex-encoded public API key and a
// hex-encoded ed25519 secret. The secret may be either a 32-byte seed or a
// full 64-byte private key.
func NewSigner(publicKeyHex, secretKeyHex string) (*Signer, error) {
	secret, err := hex.DecodeString(secretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid secret key hex: %w", err)
	}

	var pk ed25519.PrivateKey
	switch len(secret) {
	case ed25519.SeedSize:
		pk = ed25519.NewKeyFromSeed(secret)
	case ed25519.PrivateKeySize:
		pk = ed25519.PrivateKey(secret)
	default:
		return nil, fmt.Errorf("crypto/signer: secret key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(secret))
	}

	return &Signer{
		publicKey:  publicKeyHex,
		privateKey: pk,
	}, nil
}

// PublicKey returns the hex-encoded public API key.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// Headers returns the authentication headers for one API request. The signed
// string is method + route (path with query) + body + unix timestamp.
//
// Returned header keys:
//   - X-Api-Key
//   - X-Request-Sign
//   - X-Sign-Date
func (s *Signer) Headers(method, route, body string) map[string]string {
	return s.HeadersAt(method, route, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (s *Signer) HeadersAt(method, route, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := method + route + body + ts
	sig := ed25519.Sign(s.privateKey, []byte(message))

	return map[string]string{
		"X-Api-Key":      s.publicKey,
		"X-Request-Sign": signaturePrefix + hex.EncodeToString(sig),
		"X-Sign-Date":    ts,
	}
}
