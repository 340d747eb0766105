package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, OpenRouter, vLLM, LiteLLM ...).
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	// Timeout bounds a single-shot Chat call. Streams are bounded by ctx only.
	Timeout time.Duration
	Client  *http.Client
}

type openAIChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
}

type openAIChatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAIProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Timeout: timeout,
		Client:  &http.Client{},
	}
}

func (p *OpenAIProvider) ModelName() string { return p.Model }

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
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

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// StreamChat streams assistant content chunks via SSE.
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) iter.Seq2[string, error] {
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
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var decoded openAIStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				yield("", fmt.Errorf("openai: decode chunk: %w", err))
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				yield("", errors.New(decoded.Error.Message))
				return
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			if delta := decoded.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}

		if err := sc.Err(); err != nil {
			yield("", err)
			return
		}
		yield("", ErrTruncated)
	}
}

func (p *OpenAIProvider) do(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if p.Client == nil {
		return nil, errors.New("openai: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("openai: model is required")
	}

	b, err := json.Marshal(openAIChatReq{
		Model:       model,
		Stream:      stream,
		Messages:    messages,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, &StatusError{Provider: "openai", Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}
