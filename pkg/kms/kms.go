// Package kms provides passphrase-based sealing for ledger topic messages
// and encrypted IPFS payloads.
//
// Keys are derived with PBKDF2-HMAC-SHA512 over a fixed salt and sealed with
// AES-256-GCM using a 16-byte nonce. The wire form is
// "base64(nonce):base64(tag):base64(ciphertext)". An empty passphrase turns
// the codec into a pass-through: messages travel unencrypted.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the derived key length (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce length used on the wire.
	NonceSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// Iterations is the PBKDF2 work factor.
	Iterations = 100_000
)

// Changing either constant invalidates every message already on the ledger.
var (
	kdfSalt        = []byte("hedera-topic-salt")
	associatedData = []byte("hedera-topic-message")
)

// DeriveKey stretches a passphrase into a 32-byte AES key. The result is
// deterministic for a given passphrase and intentionally slow to compute.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return pbkdf2.Key([]byte(passphrase), kdfSalt, Iterations, KeySize, sha512.New), nil
}

// Encrypt seals plaintext under passphrase. An empty passphrase returns the
// plaintext unchanged.
func Encrypt(plaintext, passphrase string) (string, error) {
	return NewCodec(passphrase).Encrypt(plaintext)
}

// Decrypt opens a wire string sealed by Encrypt. An empty passphrase returns
// the input unchanged.
func Decrypt(wire, passphrase string) (string, error) {
	return NewCodec(passphrase).Decrypt(wire)
}

// Codec seals and opens messages for a single passphrase. The derived key is
// computed on first use and reused for the lifetime of the Codec.
// A Codec is safe for concurrent use.
type Codec struct {
	passphrase string
	random     io.Reader

	once   sync.Once
	gcm    cipher.AEAD
	keyErr error
}

// Option configures a Codec.
type Option func(*Codec)

// WithRandom overrides the nonce source. Tests only; production code must
// keep crypto/rand.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) { c.random = r }
}

// NewCodec creates a codec bound to passphrase.
func NewCodec(passphrase string, opts ...Option) *Codec {
	c := &Codec{passphrase: passphrase, random: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the codec actually encrypts.
func (c *Codec) Enabled() bool {
	return c != nil && c.passphrase != ""
}

func (c *Codec) aead() (cipher.AEAD, error) {
	c.once.Do(func() {
		key, err := DeriveKey(c.passphrase)
		if err != nil {
			c.keyErr = err
			return
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			c.keyErr = fmt.Errorf("kms: aes cipher: %w", err)
			return
		}
		gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
		if err != nil {
			c.keyErr = fmt.Errorf("kms: gcm: %w", err)
			return
		}
		c.gcm = gcm
	})
	return c.gcm, c.keyErr
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", fmt.Errorf("kms: nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), associatedData)
	split := len(sealed) - TagSize
	env := Envelope{
		Nonce:      nonce,
		Tag:        sealed[split:],
		Ciphertext: sealed[:split],
	}
	return env.String(), nil
}

// Decrypt parses and opens a wire string. Malformed input yields a
// *FormatError; an authentication failure yields a *CryptoError and no
// plaintext.
func (c *Codec) Decrypt(wire string) (string, error) {
	if !c.Enabled() {
		return wire, nil
	}
	env, err := ParseEnvelope(wire)
	if err != nil {
		return "", err
	}
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	pt, err := gcm.Open(nil, env.Nonce, sealed, associatedData)
	if err != nil {
		return "", &CryptoError{Err: err}
	}
	return string(pt), nil
}
