package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Client  *http.Client
}

type ollamaChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResp struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Timeout: 90 * time.Second,
		Client:  &http.Client{},
	}
}

func (p *OllamaProvider) ModelName() string { return p.Model }

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	resp, err := p.do(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Message.Content, nil
}

// StreamChat streams assistant content chunks from newline-delimited JSON.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		resp, err := p.do(ctx, messages, true)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		// Increase scanner buffer for long JSON lines.
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaChatResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				yield("", fmt.Errorf("ollama: decode chunk: %w", err))
				return
			}
			if decoded.Error != "" {
				yield("", errors.New(decoded.Error))
				return
			}
			if decoded.Message.Content != "" {
				if !yield(decoded.Message.Content, nil) {
					return
				}
			}
			if decoded.Done {
				return
			}
		}

		if err := sc.Err(); err != nil {
			yield("", err)
			return
		}
		yield("", ErrTruncated)
	}
}

func (p *OllamaProvider) do(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}

	b, err := json.Marshal(ollamaChatReq{Model: p.Model, Stream: stream, Messages: messages})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{Provider: "ollama", Status: resp.StatusCode}
	}
	return resp, nil
}
