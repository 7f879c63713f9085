package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	TypeGoldRiskEvaluation = "evaluation/gold-risk"
	ArchiveSchemaVersion   = "v1"

	maxArchivePayload = 10 * 1024 * 1024
)

// ArtifactEnvelope wraps an archived decision record.
type ArtifactEnvelope struct {
	Type          string          `json:"type"`
	SchemaVersion string          `json:"schema_version"`
	ProducerID    string          `json:"producer_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	PayloadHash   string          `json:"payload_hash"`
}

// Archive keeps an audit copy of decisions sent to the ledger. It is write
// and fetch-by-key only; there is no listing or query.
type Archive struct {
	store    Store
	producer string
	clock    func() time.Time
}

// NewArchive creates an archive over store.
func NewArchive(store Store, producer string) *Archive {
	return &Archive{store: store, producer: producer, clock: time.Now}
}

// WithClock overrides the timestamp source.
func (a *Archive) WithClock(clock func() time.Time) *Archive {
	a.clock = clock
	return a
}

// Put archives payload and returns the envelope's store key.
func (a *Archive) Put(ctx context.Context, artifactType string, payload any) (string, error) {
	if artifactType == "" {
		return "", errors.New("artifacts: missing artifact type")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("artifacts: marshal payload: %w", err)
	}
	if len(body) > maxArchivePayload {
		return "", fmt.Errorf("artifacts: payload exceeds limit of %d bytes", maxArchivePayload)
	}
	env := ArtifactEnvelope{
		Type:          artifactType,
		SchemaVersion: ArchiveSchemaVersion,
		ProducerID:    a.producer,
		Timestamp:     a.clock().UTC(),
		Payload:       body,
		PayloadHash:   ContentKey(body),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("artifacts: marshal envelope: %w", err)
	}
	return a.store.Store(ctx, data)
}

// Get loads an envelope and checks that its payload still matches the
// recorded hash.
func (a *Archive) Get(ctx context.Context, key string) (*ArtifactEnvelope, error) {
	data, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var env ArtifactEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("artifacts: corrupt envelope %s: %w", key, err)
	}
	if got := ContentKey(env.Payload); got != env.PayloadHash {
		return nil, fmt.Errorf("artifacts: payload hash mismatch for %s: recorded %s, computed %s", key, env.PayloadHash, got)
	}
	return &env, nil
}
