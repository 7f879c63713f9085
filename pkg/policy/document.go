// Package policy holds the versioned risk policy: its documents, their
// content hashes, and the merge of a document over environment defaults.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// BuiltinVersion is the version of the compiled-in policy.
const BuiltinVersion = "gold-risk-2025.10.1"

// Override keys read from a policy document. VOL_WINDOW is deliberately
// absent: the volatility window only comes from the environment.
const (
	KeyJewelleryHaircutBps     = "JEWELLERY_HAIRCUT_BPS"
	KeyBarHaircutBps           = "BAR_HAIRCUT_BPS"
	KeyMaxSafeLTV              = "MAX_SAFE_LTV"
	KeyMarginCallLTV           = "MARGIN_CALL_LTV"
	KeyTenureLimitDays         = "TENURE_LIMIT_DAYS"
	KeyVolThreshold            = "VOL_THRESHOLD"
	KeyPriceDeviationThreshold = "PRICE_DEVIATION_THRESHOLD"
	KeyRiskLevel               = "RISK_LEVEL"
)

// ErrHashMismatch is returned when a document's recorded id or hash does not
// match its content.
var ErrHashMismatch = errors.New("policy: hash mismatch")

// Body is the hashed part of a policy document.
type Body struct {
	Version   string         `json:"version"`
	UpdatedAt string         `json:"updated_at"`
	Values    map[string]any `json:"values"`
}

// Document is a self-describing policy: ID is version + ":" + Hash(body),
// Hash is Hash(values).
type Document struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Hash    string `json:"hash"`
	Body    Body   `json:"body"`
}

// Hash returns the hex sha256 of the RFC 8785 canonical JSON of v.
func Hash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("policy: marshal: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("policy: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// NewDocument builds a document and computes its id and hash.
func NewDocument(version string, values map[string]any, updatedAt time.Time) (Document, error) {
	body := Body{
		Version:   version,
		UpdatedAt: updatedAt.UTC().Format(time.RFC3339Nano),
		Values:    values,
	}
	return seal(body)
}

func seal(body Body) (Document, error) {
	bodyHash, err := Hash(body)
	if err != nil {
		return Document{}, err
	}
	valuesHash, err := Hash(body.Values)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:      body.Version + ":" + bodyHash,
		Version: body.Version,
		Hash:    valuesHash,
		Body:    body,
	}, nil
}

// Verify recomputes the id and hash of d.
func (d Document) Verify() error {
	want, err := seal(d.Body)
	if err != nil {
		return err
	}
	if d.Version != want.Version {
		return fmt.Errorf("%w: version %q does not match body version %q", ErrHashMismatch, d.Version, want.Version)
	}
	if d.Hash != want.Hash {
		return fmt.Errorf("%w: hash %s, computed %s", ErrHashMismatch, d.Hash, want.Hash)
	}
	if d.ID != want.ID {
		return fmt.Errorf("%w: id %s, computed %s", ErrHashMismatch, d.ID, want.ID)
	}
	return nil
}

// BuiltinValues returns a fresh copy of the compiled-in policy values.
func BuiltinValues() map[string]any {
	return map[string]any{
		KeyMaxSafeLTV:          0.80,
		KeyMarginCallLTV:       0.85,
		KeyJewelleryHaircutBps: 500,
		KeyBarHaircutBps:       100,
		KeyVolThreshold:        0.05,
		KeyTenureLimitDays:     180,
		KeyRiskLevel: map[string]any{
			"VERY_LOW":  0.60,
			"LOW":       0.69,
			"MEDIUM":    0.79,
			"HIGH":      0.85,
			"VERY_HIGH": 0.85,
		},
	}
}

// Builtin returns the compiled-in policy stamped with now. The hash does not
// depend on now; the id does.
func Builtin(now time.Time) Document {
	doc, err := NewDocument(BuiltinVersion, BuiltinValues(), now)
	if err != nil {
		// Only reachable if the literal values above stop being JSON.
		panic(err)
	}
	return doc
}
