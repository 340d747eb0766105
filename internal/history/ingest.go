package history

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformed marks a queue message that can never be stored.
var ErrMalformed = errors.New("malformed history message")

// Ingest stores a QueueSink message. Redelivered messages are reported as
// not inserted without error.
func (r *Repo) Ingest(ctx context.Context, body []byte) (bool, error) {
	rec, err := DecodeRecord(body)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r.CreateIfAbsent(ctx, rec)
}
