package kms

import "errors"

var (
	// ErrEmptyPassphrase is returned by DeriveKey for an empty passphrase.
	// Callers treat an absent passphrase as "encryption disabled" instead.
	ErrEmptyPassphrase = errors.New("kms: empty passphrase")
	// ErrFormat matches every *FormatError.
	ErrFormat = errors.New("kms: invalid envelope format")
	// ErrCrypto matches every *CryptoError.
	ErrCrypto = errors.New("kms: message authentication failed")
)

// FormatError reports a wire string that is not nonce:tag:ciphertext.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "kms: invalid envelope format: " + e.Reason
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// CryptoError reports a tag that did not verify: wrong key, tampered
// ciphertext, or corrupted nonce/tag.
type CryptoError struct {
	Err error
}

func (e *CryptoError) Error() string {
	return "kms: message authentication failed: " + e.Err.Error()
}

func (e *CryptoError) Unwrap() error { return e.Err }

func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }
