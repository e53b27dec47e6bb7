package llmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient ходит в Chat Completions API.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger
}

func NewOpenAIClient(baseURL, model string, timeout time.Duration, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		logger:     logger,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	body, err := json.Marshal(openAIRequest{
		Model:    c.model,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("openai: сериализация запроса: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: "openai", Category: CategoryTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Category: CategoryTransient, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Category:   classifyStatus(resp.StatusCode),
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    truncateBody(raw),
		}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Category: CategoryTransient, Message: fmt.Sprintf("разбор ответа: %v", err)}
	}

	var text string
	if len(parsed.Choices) > 0 {
		text = strings.TrimSpace(parsed.Choices[0].Message.Content)
	}
	if text == "" {
		return "", &ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Category: CategoryEmptyResponse, Message: "пустой ответ модели"}
	}

	return text, nil
}
