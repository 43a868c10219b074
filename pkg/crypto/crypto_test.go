package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainHash_ColonRule(t *testing.T) {
	// Byte-exact: SHA-256 of "payload:prevhash" joined with a single 0x3A.
	want := sha256.Sum256([]byte(`{"a":1}:abcd`))
	assert.Equal(t, hex.EncodeToString(want[:]), ChainHash(`{"a":1}`, "abcd"))

	single := sha256.Sum256([]byte(`{"a":1}`))
	assert.Equal(t, hex.EncodeToString(single[:]), ChainHash(`{"a":1}`))
}

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("canonical decision message")
	sig := Sign(priv, msg)

	assert.True(t, Verify(pub, msg, sig))
	assert.False(t, Verify(pub, []byte("tampered"), sig))
}

func TestVerify_TotalOnMalformedInputs(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)
	sig := Sign(priv, []byte("m"))

	assert.False(t, Verify("not base64!!", []byte("m"), sig))
	assert.False(t, Verify(pub, []byte("m"), "not base64!!"))
	// Wrong lengths, valid base64.
	assert.False(t, Verify(base64.StdEncoding.EncodeToString([]byte("short")), []byte("m"), sig))
	assert.False(t, Verify(pub, []byte("m"), base64.StdEncoding.EncodeToString([]byte("short"))))
}

func TestPasswordHash_RoundTrip(t *testing.T) {
	// Reduced cost for the test; production params come from Config.
	p := Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

	encoded, err := HashPassword("correct horse", p)
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$v=19$m=1024,t=1,p=1$")

	assert.True(t, VerifyPassword(encoded, "correct horse"))
	assert.False(t, VerifyPassword(encoded, "wrong"))
	assert.False(t, VerifyPassword("$garbage$", "correct horse"))
}

func TestPasswordHash_UniqueSalts(t *testing.T) {
	p := Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
	a, err := HashPassword("pw", p)
	require.NoError(t, err)
	b, err := HashPassword("pw", p)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenHash_Deterministic(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	tok, err := NewSessionToken()
	require.NoError(t, err)

	h1 := TokenHash(secret, tok)
	h2 := TokenHash(secret, tok)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	other, err := NewSecret()
	require.NoError(t, err)
	assert.NotEqual(t, h1, TokenHash(other, tok))
}
