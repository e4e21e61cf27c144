package codec

import (
	"testing"

	"github.com/smallbiznis/newsletter/internal/idempotency/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_PreservesResponse(t *testing.T) {
	resp := domain.StoredResponse{
		StatusCode: 200,
		Headers:    []domain.HeaderPair{{Name: "Content-Type", Value: []byte("text/plain")}},
		Body:       []byte("ok"),
	}

	cols, err := Encode(resp)
	require.NoError(t, err)
	assert.Equal(t, int16(200), cols.StatusCode)

	got, err := Decode(cols)
	require.NoError(t, err)
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, resp.Headers, got.Headers)
	assert.Equal(t, []byte("ok"), got.Body)
}

func TestEncodeDecode_KeepsHeaderOrderAndDuplicates(t *testing.T) {
	resp := domain.StoredResponse{
		StatusCode: 303,
		Headers: []domain.HeaderPair{
			{Name: "Set-Cookie", Value: []byte("a=1")},
			{Name: "Location", Value: []byte("/admin/newsletters")},
			{Name: "Set-Cookie", Value: []byte("b=2")},
		},
	}

	cols, err := Encode(resp)
	require.NoError(t, err)
	got, err := Decode(cols)
	require.NoError(t, err)

	require.Len(t, got.Headers, 3)
	assert.Equal(t, "Set-Cookie", got.Headers[0].Name)
	assert.Equal(t, "Location", got.Headers[1].Name)
	assert.Equal(t, []byte("b=2"), got.Headers[2].Value)
	assert.Equal(t, []byte{}, got.Body)
}

func TestEncode_BinaryHeaderValue(t *testing.T) {
	raw := []byte{0x00, 0xff, 0x10}
	cols, err := Encode(domain.StoredResponse{
		StatusCode: 200,
		Headers:    []domain.HeaderPair{{Name: "X-Raw", Value: raw}},
	})
	require.NoError(t, err)

	got, err := Decode(cols)
	require.NoError(t, err)
	assert.Equal(t, raw, got.Headers[0].Value)
}

func TestEncode_RejectsInvalidResponses(t *testing.T) {
	_, err := Encode(domain.StoredResponse{StatusCode: 42})
	assert.ErrorIs(t, err, domain.ErrInvalidResponse)

	_, err = Encode(domain.StoredResponse{StatusCode: 200, Headers: []domain.HeaderPair{{Value: []byte("x")}}})
	assert.ErrorIs(t, err, domain.ErrInvalidResponse)
}

func TestDecodeRecord_PlaceholderIsNotReady(t *testing.T) {
	_, err := DecodeRecord(domain.Record{UserID: "1", IdempotencyKey: "abc"})
	assert.ErrorIs(t, err, domain.ErrResponseNotReady)

	status := int16(204)
	got, err := DecodeRecord(domain.Record{ResponseStatusCode: &status, ResponseHeaders: []byte("[]")})
	require.NoError(t, err)
	assert.Equal(t, 204, got.StatusCode)
	assert.Empty(t, got.Headers)
}

func TestDecode_CorruptHeaders(t *testing.T) {
	_, err := Decode(Columns{StatusCode: 200, Headers: []byte("{not json")})
	assert.Error(t, err)
}
