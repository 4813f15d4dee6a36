// Package httputil provides helpers for working with HTTP payloads safely.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxResponseBodyBytes caps upstream response bodies. Chat
// completions and embedding batches both fit comfortably under 10MB.
const DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024

var ErrResponseBodyTooLarge = errors.New("response body too large")

// ReadLimitedBody reads up to maxBytes from reader and returns
// ErrResponseBodyTooLarge when exceeded. maxBytes <= 0 disables the cap.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	limited := io.LimitReader(reader, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:int(maxBytes)], ErrResponseBodyTooLarge
	}
	return body, nil
}
