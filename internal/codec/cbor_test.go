// ABOUTME: Tests for the CBOR codec configuration
// ABOUTME: Covers determinism, uuid round trips, and any-typed map decoding

package codec

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalIsDeterministic(t *testing.T) {
	value := map[string]any{"zeta": 1, "alpha": "a", "mid": []int{1, 2}}

	first, err := Marshal(value)
	require.NoError(t, err)
	for range 20 {
		again, err := Marshal(value)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(first, again), "encoding changed between calls")
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	id := uuid.MustParse("6f1c2d7e-2f7b-4a55-9d7c-0c5f7f6b8d11")

	data, err := Marshal(struct {
		ID uuid.UUID `cbor:"id"`
	}{ID: id})
	require.NoError(t, err)

	var decoded struct {
		ID uuid.UUID `cbor:"id"`
	}
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded.ID)
}

func TestAnyMapsDecodeWithStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"status": "running"}})
	require.NoError(t, err)

	var decoded any
	require.NoError(t, Unmarshal(data, &decoded))

	outer, ok := decoded.(map[string]any)
	require.True(t, ok, "top level decoded as %T", decoded)
	inner, ok := outer["outer"].(map[string]any)
	require.True(t, ok, "nested map decoded as %T", outer["outer"])
	assert.Equal(t, "running", inner["status"])
}

func TestUnknownFieldsAreIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"request_id": "r-1", "added_later": true})
	require.NoError(t, err)

	var decoded struct {
		RequestID string `cbor:"request_id"`
	}
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, "r-1", decoded.RequestID)
}
