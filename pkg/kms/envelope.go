package kms

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const envelopeSeparator = ":"

// Envelope is the decoded form of a sealed message.
type Envelope struct {
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
}

// String renders the envelope in wire order nonce:tag:ciphertext.
func (e Envelope) String() string {
	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(e.Nonce),
		base64.StdEncoding.EncodeToString(e.Tag),
		base64.StdEncoding.EncodeToString(e.Ciphertext),
	}, envelopeSeparator)
}

// ParseEnvelope splits and decodes a wire string. It checks shape only;
// authenticity is established by Codec.Decrypt.
func ParseEnvelope(wire string) (Envelope, error) {
	parts, err := splitWire(wire)
	if err != nil {
		return Envelope{}, err
	}
	if len(parts[0]) != NonceSize {
		return Envelope{}, &FormatError{Reason: fmt.Sprintf("nonce is %d bytes, want %d", len(parts[0]), NonceSize)}
	}
	if len(parts[1]) != TagSize {
		return Envelope{}, &FormatError{Reason: fmt.Sprintf("tag is %d bytes, want %d", len(parts[1]), TagSize)}
	}
	return Envelope{Nonce: parts[0], Tag: parts[1], Ciphertext: parts[2]}, nil
}

// LooksEncrypted reports whether s has the wire shape: three
// colon-separated base64 segments. A plaintext string of the same shape is
// indistinguishable until decryption is attempted.
func LooksEncrypted(s string) bool {
	_, err := splitWire(s)
	return err == nil
}

func splitWire(wire string) ([3][]byte, error) {
	var out [3][]byte
	parts := strings.Split(wire, envelopeSeparator)
	if len(parts) != 3 {
		return out, &FormatError{Reason: fmt.Sprintf("expected 3 parts (nonce:tag:ciphertext), got %d", len(parts))}
	}
	names := [3]string{"nonce", "tag", "ciphertext"}
	for i, p := range parts {
		b, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return out, &FormatError{Reason: fmt.Sprintf("%s is not base64: %v", names[i], err)}
		}
		out[i] = b
	}
	return out, nil
}
