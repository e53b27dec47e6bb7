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

// GeminiClient ходит в Google Generative Language API.
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger
}

func NewGeminiClient(baseURL, model string, timeout time.Duration, logger *slog.Logger) *GeminiClient {
	return &GeminiClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		logger:     logger,
	}
}

func (c *GeminiClient) Name() string { return "gemini" }

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate выполняет один запрос генерации с конкретным ключом.
func (c *GeminiClient) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: сериализация запроса: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: "gemini", Category: CategoryTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Provider: "gemini", StatusCode: resp.StatusCode, Category: CategoryTransient, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{
			Provider:   "gemini",
			StatusCode: resp.StatusCode,
			Category:   classifyStatus(resp.StatusCode),
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    truncateBody(raw),
		}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ProviderError{Provider: "gemini", StatusCode: resp.StatusCode, Category: CategoryTransient, Message: fmt.Sprintf("разбор ответа: %v", err)}
	}

	var sb strings.Builder
	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", &ProviderError{Provider: "gemini", StatusCode: resp.StatusCode, Category: CategoryEmptyResponse, Message: "пустой ответ модели"}
	}

	return text, nil
}
