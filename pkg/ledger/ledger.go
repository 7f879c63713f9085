// Package ledger keeps a local, append-only, hash-chained mirror of the
// messages submitted to external ledger topics. Every entry commits to its
// predecessor, so a gap or an edited entry is detectable with Verify.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

const genesis = "genesis"

// ErrChainBroken matches every Verify failure.
var ErrChainBroken = errors.New("ledger: chain broken")

// Entry is one mirrored submission. MessageHash covers the exact wire
// string sent; ChainHash covers the entry and its predecessor.
type Entry struct {
	Sequence    uint64    `json:"sequence"`
	Topic       string    `json:"topic"`
	Kind        string    `json:"kind"`
	Author      string    `json:"author,omitempty"`
	MessageHash string    `json:"message_hash"`
	PrevHash    string    `json:"prev_hash"`
	ChainHash   string    `json:"chain_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	head    string
	clock   func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{head: genesis, clock: time.Now}
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// HashMessage returns the "sha256:" digest of a wire message.
func HashMessage(message string) string {
	h := sha256.Sum256([]byte(message))
	return "sha256:" + hex.EncodeToString(h[:])
}

// chainHash commits to every field of e except ChainHash itself.
func chainHash(e Entry) (string, error) {
	raw, err := json.Marshal(map[string]any{
		"seq":       e.Sequence,
		"topic":     e.Topic,
		"kind":      e.Kind,
		"author":    e.Author,
		"message":   e.MessageHash,
		"prev":      e.PrevHash,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(canon)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Append records a submission and returns the new entry.
func (l *Ledger) Append(topic, kind, author, message string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Sequence:    uint64(len(l.entries)) + 1,
		Topic:       topic,
		Kind:        kind,
		Author:      author,
		MessageHash: HashMessage(message),
		PrevHash:    l.head,
		Timestamp:   l.clock().UTC(),
	}
	ch, err := chainHash(e)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: hash entry %d: %w", e.Sequence, err)
	}
	e.ChainHash = ch
	l.entries = append(l.entries, e)
	l.head = ch
	return e, nil
}

// Get retrieves an entry by sequence number (1-based).
func (l *Ledger) Get(seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("ledger: entry %d not found", seq)
	}
	return l.entries[seq-1], nil
}

// Head returns the chain hash of the latest entry, or "genesis".
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Length returns the number of entries.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of all entries in order.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Verify recomputes every chain hash.
func (l *Ledger) Verify() error {
	return VerifyEntries(l.Entries())
}

// VerifyEntries checks an exported sequence of entries.
func VerifyEntries(entries []Entry) error {
	prev := genesis
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrChainBroken, i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d expected prev %s, got %s", ErrChainBroken, e.Sequence, prev, e.PrevHash)
		}
		ch, err := chainHash(e)
		if err != nil {
			return fmt.Errorf("ledger: hash entry %d: %w", e.Sequence, err)
		}
		if ch != e.ChainHash {
			return fmt.Errorf("%w: hash mismatch at entry %d", ErrChainBroken, e.Sequence)
		}
		prev = e.ChainHash
	}
	return nil
}
