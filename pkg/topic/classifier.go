// Package topic decodes messages read from ledger topics and submits new
// ones through the ledger gateway API.
package topic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/silsilat/gold-evaluator/pkg/artifacts"
	"github.com/silsilat/gold-evaluator/pkg/kms"
)

// Kind identifies how a topic message was interpreted.
type Kind string

const (
	KindPlainStructured     Kind = "plain_json"
	KindEncryptedStructured Kind = "encrypted_json"
	KindEncryptedText       Kind = "encrypted_text"
	KindError               Kind = "error"
	KindContentRef          Kind = "ipfs"
	KindContentRefError     Kind = "ipfs_error"
	KindPlainText           Kind = "plain_text"
)

// Message is the classification result. Only the fields relevant to Type are
// set.
type Message struct {
	Type       Kind   `json:"type"`
	Encrypted  bool   `json:"encrypted,omitempty"`
	Content    any    `json:"content,omitempty"`
	IPFSHash   string `json:"ipfs_hash,omitempty"`
	Error      string `json:"error,omitempty"`
	RawContent string `json:"raw_content,omitempty"`
	Base64     string `json:"base64,omitempty"`
}

// ContentResolver resolves content references found in messages.
type ContentResolver interface {
	Resolve(ctx context.Context, ref, passphrase string) (artifacts.Value, error)
}

// Classifier interprets base64 topic payloads.
type Classifier struct {
	resolver ContentResolver
	logger   *slog.Logger
}

// NewClassifier creates a classifier. A nil resolver makes every content
// reference classify as KindContentRefError.
func NewClassifier(resolver ContentResolver) *Classifier {
	return &Classifier{
		resolver: resolver,
		logger:   slog.Default().With("component", "topic_classifier"),
	}
}

// Classify decodes encoded and tries, in order: plain JSON, sealed content
// (only with a passphrase), a content reference, and finally plain text.
// It never fails; problems are reported as KindError messages.
func (c *Classifier) Classify(ctx context.Context, encoded, passphrase string) (msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "classifier panic", "panic", r)
			msg = Message{Type: KindError, Error: fmt.Sprint(r), Base64: encoded}
		}
	}()

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Message{Type: KindError, Error: fmt.Sprintf("invalid base64: %v", err), Base64: encoded}
	}
	if !utf8.Valid(raw) {
		return Message{Type: KindError, Error: "message is not valid UTF-8", Base64: encoded}
	}
	content := string(raw)

	if v, ok := parseJSON(content); ok {
		return Message{Type: KindPlainStructured, Content: v}
	}

	if passphrase != "" && kms.LooksEncrypted(content) {
		plain, err := kms.Decrypt(content, passphrase)
		if err != nil {
			c.logger.WarnContext(ctx, "topic message decrypt failed", "error", err)
			return Message{Type: KindError, Error: "decryption failed: " + err.Error(), RawContent: content}
		}
		if v, ok := parseJSON(plain); ok {
			return Message{Type: KindEncryptedStructured, Encrypted: true, Content: v}
		}
		return Message{Type: KindEncryptedText, Encrypted: true, Content: plain}
	}

	if artifacts.IsContentID(content) {
		if c.resolver == nil {
			return Message{Type: KindContentRefError, IPFSHash: content, Error: "no content resolver configured"}
		}
		v, err := c.resolver.Resolve(ctx, content, passphrase)
		if err != nil {
			return Message{Type: KindContentRefError, IPFSHash: content, Error: err.Error()}
		}
		return Message{Type: KindContentRef, IPFSHash: content, Content: v.Data}
	}

	return Message{Type: KindPlainText, Content: content}
}

func parseJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// IsError reports whether m describes a failure.
func (m Message) IsError() bool {
	return m.Type == KindError || m.Type == KindContentRefError
}

// Err returns m's failure as an error, or nil.
func (m Message) Err() error {
	if !m.IsError() {
		return nil
	}
	return errors.New(m.Error)
}
