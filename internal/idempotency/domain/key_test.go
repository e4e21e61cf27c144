package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	valid := []string{"abc-123", "0b2d7f9e-3c1a-4f57-9c0e-6f1b2a3c4d5e", "a", "tab.1:x_y", strings.Repeat("k", MaxKeyLength)}
	for _, raw := range valid {
		key, err := ParseKey(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, key.String())
	}

	invalid := []string{"", " ", "abc 123", "line\nbreak", "nul\x00", "emoji-☃", strings.Repeat("k", MaxKeyLength+1), "semi;colon"}
	for _, raw := range invalid {
		_, err := ParseKey(raw)
		assert.ErrorIs(t, err, ErrInvalidKey, "%q", raw)
	}
}

func TestStoredResponseHeader(t *testing.T) {
	resp := StoredResponse{Headers: []HeaderPair{{Name: "Location", Value: []byte("/admin/newsletters")}}}

	v, ok := resp.Header("location")
	assert.True(t, ok)
	assert.Equal(t, "/admin/newsletters", v)

	_, ok = resp.Header("X-Missing")
	assert.False(t, ok)
}
