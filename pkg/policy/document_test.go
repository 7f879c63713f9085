package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_KeyOrderIndependent(t *testing.T) {
	a, err := Hash(map[string]any{"b": 1, "a": 2.5})
	require.NoError(t, err)
	b, err := Hash(map[string]any{"a": 2.5, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestBuiltin_HashStableIDVaries(t *testing.T) {
	d1 := Builtin(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))
	d2 := Builtin(time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, BuiltinVersion, d1.Version)
	assert.Equal(t, d1.Hash, d2.Hash)
	assert.NotEqual(t, d1.ID, d2.ID)
	assert.Contains(t, d1.ID, BuiltinVersion+":")
	assert.NoError(t, d1.Verify())
}

func TestDocument_VerifyDetectsTampering(t *testing.T) {
	doc := Builtin(time.Unix(0, 0))
	doc.Body.Values = BuiltinValues()
	doc.Body.Values[KeyMaxSafeLTV] = 0.95
	assert.ErrorIs(t, doc.Verify(), ErrHashMismatch)

	doc = Builtin(time.Unix(0, 0))
	doc.Version = "gold-risk-9.9.9"
	assert.ErrorIs(t, doc.Verify(), ErrHashMismatch)
}

func TestBuiltinValues_FreshCopy(t *testing.T) {
	v := BuiltinValues()
	v[KeyMaxSafeLTV] = 0.1
	assert.Equal(t, 0.80, BuiltinValues()[KeyMaxSafeLTV])
}
