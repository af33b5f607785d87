package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements the Completer interface for OpenAI-compatible APIs.
type OpenAIProvider struct {
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64

	httpClient *http.Client
}

// NewOpenAIProvider creates a new OpenAIProvider.
func NewOpenAIProvider(apiKey, apiBase, defaultModel string, maxTokens int, temperature float64) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	if maxTokens <= 0 {
		maxTokens = 400
	}
	return &OpenAIProvider{
		APIKey:      apiKey,
		APIBase:     apiBase,
		Model:       defaultModel,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

const completeRetries = 3

// Complete sends a chat completion request. Rate-limit and transport errors
// are retried with backoff; other API errors fail immediately.
func (p *OpenAIProvider) Complete(ctx context.Context, system string, history []Message, user string) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: user})

	var lastErr error
	for attempt := 1; attempt <= completeRetries; attempt++ {
		content, retryable, err := p.complete(ctx, messages)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable || attempt == completeRetries {
			break
		}
		backoff := time.Duration(attempt)*time.Second + time.Duration(rand.Intn(500))*time.Millisecond
		log.Printf("completion attempt %d/%d failed: %v (retrying in %v)", attempt, completeRetries, err, backoff)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", lastErr
}

func (p *OpenAIProvider) complete(ctx context.Context, messages []Message) (string, bool, error) {
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.APIBase, "/"))

	reqBody := map[string]interface{}{
		"model":       p.Model,
		"messages":    messages,
		"max_tokens":  p.MaxTokens,
		"temperature": p.Temperature,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.APIKey))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", false, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", false, fmt.Errorf("no choices in response")
	}

	return strings.TrimSpace(response.Choices[0].Message.Content), false, nil
}

// GetDefaultModel returns the default model.
func (p *OpenAIProvider) GetDefaultModel() string {
	return p.Model
}
