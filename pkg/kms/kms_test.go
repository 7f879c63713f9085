package kms

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassphrase = "my-secret-key-12345"

func TestDeriveKey_Deterministic(t *testing.T) {
	k1, err := DeriveKey(testPassphrase)
	require.NoError(t, err)
	k2, err := DeriveKey(testPassphrase)
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)

	other, err := DeriveKey("another-key")
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)
}

func TestDeriveKey_EmptyPassphrase(t *testing.T) {
	_, err := DeriveKey("")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	msgs := []string{
		"Hello, this is a secret message!",
		"",
		`{"risk_level":"HIGH","ltv":0.7987}`,
		"unicode: emas 916 ✓",
	}
	codec := NewCodec(testPassphrase)
	for _, m := range msgs {
		wire, err := codec.Encrypt(m)
		require.NoError(t, err)
		assert.NotEqual(t, m, wire)

		got, err := codec.Decrypt(wire)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestEncrypt_WireShape(t *testing.T) {
	wire, err := Encrypt("payload", testPassphrase)
	require.NoError(t, err)

	parts := strings.Split(wire, ":")
	require.Len(t, parts, 3)

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	assert.Len(t, nonce, NonceSize)
	assert.Len(t, tag, TagSize)
	assert.Len(t, ct, len("payload"))
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	codec := NewCodec(testPassphrase)
	a, err := codec.Encrypt("same message")
	require.NoError(t, err)
	b, err := codec.Encrypt("same message")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, strings.Split(a, ":")[0], strings.Split(b, ":")[0])
}

func TestEncrypt_NonceSourceFailure(t *testing.T) {
	codec := NewCodec(testPassphrase, WithRandom(bytes.NewReader([]byte{1, 2, 3})))
	_, err := codec.Encrypt("x")
	assert.Error(t, err)
}

func TestDecrypt_WrongKey(t *testing.T) {
	wire, err := Encrypt("secret", testPassphrase)
	require.NoError(t, err)

	_, err = Decrypt(wire, "wrong-key")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrypto)

	var cerr *CryptoError
	assert.ErrorAs(t, err, &cerr)
}

func TestDecrypt_TamperedParts(t *testing.T) {
	wire, err := Encrypt("tamper me please", testPassphrase)
	require.NoError(t, err)

	for idx, name := range []string{"nonce", "tag", "ciphertext"} {
		t.Run(name, func(t *testing.T) {
			parts := strings.Split(wire, ":")
			raw, err := base64.StdEncoding.DecodeString(parts[idx])
			require.NoError(t, err)
			raw[0] ^= 0x01
			parts[idx] = base64.StdEncoding.EncodeToString(raw)

			_, err = Decrypt(strings.Join(parts, ":"), testPassphrase)
			assert.ErrorIs(t, err, ErrCrypto)
		})
	}
}

func TestDecrypt_FormatErrors(t *testing.T) {
	cases := map[string]string{
		"one part":        "plain text",
		"two parts":       "a:b",
		"four parts":      "YQ==:YQ==:YQ==:YQ==",
		"not base64":      "!!!:YQ==:YQ==",
		"short nonce":     "YQ==:" + base64.StdEncoding.EncodeToString(make([]byte, TagSize)) + ":YQ==",
		"short tag":       base64.StdEncoding.EncodeToString(make([]byte, NonceSize)) + ":YQ==:YQ==",
		"empty segments":  "::",
		"json with colon": `{"a":"b"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decrypt(in, testPassphrase)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFormat)
			assert.NotErrorIs(t, err, ErrCrypto)
		})
	}
}

func TestPassThroughWithoutPassphrase(t *testing.T) {
	for _, m := range []string{"", "plain", "YQ==:YQ==:YQ==", "a:b"} {
		enc, err := Encrypt(m, "")
		require.NoError(t, err)
		assert.Equal(t, m, enc)

		dec, err := Decrypt(m, "")
		require.NoError(t, err)
		assert.Equal(t, m, dec)
	}
	assert.False(t, NewCodec("").Enabled())
	assert.True(t, NewCodec("k").Enabled())
}

func TestLooksEncrypted(t *testing.T) {
	wire, err := Encrypt("hello", testPassphrase)
	require.NoError(t, err)

	assert.True(t, LooksEncrypted(wire))
	assert.False(t, LooksEncrypted("plain text"))
	assert.False(t, LooksEncrypted(`{"key": "value"}`))
	assert.False(t, LooksEncrypted("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"))
	assert.False(t, LooksEncrypted("a:b:c:d"))
	// Heuristic false positive: base64-looking plaintext.
	assert.True(t, LooksEncrypted("abcd:efgh:ijkl"))
}

func TestParseEnvelope_RoundTrip(t *testing.T) {
	env := Envelope{
		Nonce:      bytes.Repeat([]byte{0xAA}, NonceSize),
		Tag:        bytes.Repeat([]byte{0xBB}, TagSize),
		Ciphertext: []byte("ct"),
	}
	parsed, err := ParseEnvelope(env.String())
	require.NoError(t, err)
	assert.Equal(t, env, parsed)
}
