// Package codec converts stored responses to and from their column values.
package codec

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/smallbiznis/newsletter/internal/idempotency/domain"
)

// Columns holds the persisted form of a response.
type Columns struct {
	StatusCode int16
	Headers    []byte
	Body       []byte
}

func Encode(resp domain.StoredResponse) (Columns, error) {
	if resp.StatusCode < 100 || resp.StatusCode > 599 {
		return Columns{}, fmt.Errorf("%w: status %d", domain.ErrInvalidResponse, resp.StatusCode)
	}

	headers := resp.Headers
	if headers == nil {
		headers = []domain.HeaderPair{}
	}
	for _, h := range headers {
		if h.Name == "" {
			return Columns{}, fmt.Errorf("%w: empty header name", domain.ErrInvalidResponse)
		}
	}
	rawHeaders, err := json.Marshal(headers)
	if err != nil {
		return Columns{}, fmt.Errorf("encode headers: %w", err)
	}

	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	return Columns{
		StatusCode: int16(resp.StatusCode),
		Headers:    rawHeaders,
		Body:       body,
	}, nil
}

func Decode(cols Columns) (domain.StoredResponse, error) {
	headers := []domain.HeaderPair{}
	if len(cols.Headers) > 0 {
		if err := json.Unmarshal(cols.Headers, &headers); err != nil {
			return domain.StoredResponse{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	for i := range headers {
		if headers[i].Value == nil {
			headers[i].Value = []byte{}
		}
	}

	body := make([]byte, len(cols.Body))
	copy(body, cols.Body)

	return domain.StoredResponse{
		StatusCode: int(cols.StatusCode),
		Headers:    headers,
		Body:       body,
	}, nil
}

// DecodeRecord returns ErrResponseNotReady while the record is still a placeholder.
func DecodeRecord(rec domain.Record) (domain.StoredResponse, error) {
	if !rec.Completed() {
		return domain.StoredResponse{}, domain.ErrResponseNotReady
	}
	return Decode(Columns{
		StatusCode: *rec.ResponseStatusCode,
		Headers:    rec.ResponseHeaders,
		Body:       rec.ResponseBody,
	})
}
