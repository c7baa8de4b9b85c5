package httputil

import (
	"fmt"
	"io"
)

// BodyTooLargeError is returned by ReadAllWithLimit when the reader exceeds Limit.
type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

// ReadAllWithLimit reads at most limit+1 bytes, returning BodyTooLargeError if
// that boundary is crossed rather than silently truncating the body.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &BodyTooLargeError{Limit: limit}
	}
	return data, nil
}
