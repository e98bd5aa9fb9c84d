package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPublicKey = "deadbeef"
	testSeedHex   = "0101010101010101010101010101010101010101010101010101010101010101"
)

func TestNewSignerAcceptsSeedAndFullKey(t *testing.T) {
	seed, err := hex.DecodeString(testSeedHex)
	require.NoError(t, err)
	full := ed25519.NewKeyFromSeed(seed)

	fromSeed, err := NewSigner(testPublicKey, testSeedHex)
	require.NoError(t, err)

	fromFull, err := NewSigner(testPublicKey, hex.EncodeToString(full))
	require.NoError(t, err)

	// Both forms must produce identical signatures.
	h1 := fromSeed.HeadersAt("GET", "/route", "", 1700000000)
	h2 := fromFull.HeadersAt("GET", "/route", "", 1700000000)
	assert.Equal(t, h1, h2)
}

func TestNewSignerRejectsBadSecrets(t *testing.T) {
	_, err := NewSigner(testPublicKey, "zzzz")
	assert.Error(t, err)

	_, err = NewSigner(testPublicKey, "abcd")
	assert.Error(t, err, "secret of wrong length")
}

func TestHeadersAtSignsMethodRouteBodyTimestamp(t *testing.T) {
	signer, err := NewSigner(testPublicKey, testSeedHex)
	require.NoError(t, err)

	const (
		method = "POST"
		route  = "/marketplace-api/v1/user-targets/create?GameID=a8db"
		body   = `{"GameID":"a8db"}`
		ts     = int64(1700000000)
	)

	headers := signer.HeadersAt(method, route, body, ts)

	assert.Equal(t, testPublicKey, headers["X-Api-Key"])
	assert.Equal(t, "1700000000", headers["X-Sign-Date"])

	sign := headers["X-Request-Sign"]
	require.True(t, strings.HasPrefix(sign, "dmar ed25519 "))

	sig, err := hex.DecodeString(strings.TrimPrefix(sign, "dmar ed25519 "))
	require.NoError(t, err)

	seed, _ := hex.DecodeString(testSeedHex)
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	message := method + route + body + "1700000000"
	assert.True(t, ed25519.Verify(pub, []byte(message), sig))

	// Tampering with any component breaks verification.
	assert.False(t, ed25519.Verify(pub, []byte("GET"+route+body+"1700000000"), sig))
	assert.False(t, ed25519.Verify(pub, []byte(message+"x"), sig))
}

func TestHeadersSignaturesAreDeterministic(t *testing.T) {
	signer, err := NewSigner(testPublicKey, testSeedHex)
	require.NoError(t, err)

	a := signer.HeadersAt("GET", "/a", "", 42)
	b := signer.HeadersAt("GET", "/a", "", 42)
	assert.Equal(t, a, b)

	c := signer.HeadersAt("GET", "/a", "", 43)
	assert.NotEqual(t, a["X-Request-Sign"], c["X-Request-Sign"])
}
