package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
//
// The returned sequence performs the upstream request lazily on first pull
// and may be ranged over once. Each element is either a non-empty content
// chunk or a terminal error. Breaking out of the range loop cancels the
// request and closes the response body.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) iter.Seq2[string, error]
}

// ModelNamer is implemented by providers that can report the model they call.
type ModelNamer interface {
	ModelName() string
}

// ErrTruncated is returned when an upstream stream ends without its terminal marker.
var ErrTruncated = errors.New("ai: stream ended before completion")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}
