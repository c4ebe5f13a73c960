package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AzureOpenAIClient implements Client against an Azure OpenAI deployment
// using the chat completions API in JSON mode.
type AzureOpenAIClient struct {
	apiKey     string
	endpoint   string
	deployment string
	apiVersion string
	httpClient *http.Client
}

// AzureConfig holds configuration for the Azure OpenAI client.
type AzureConfig struct {
	APIKey     string
	Endpoint   string // e.g. https://acme.openai.azure.com
	Deployment string
	APIVersion string
	Timeout    time.Duration
}

// DefaultAzureConfig returns sensible defaults.
func DefaultAzureConfig(apiKey, endpoint, deployment string) AzureConfig {
	return AzureConfig{
		APIKey:     apiKey,
		Endpoint:   endpoint,
		Deployment: deployment,
		APIVersion: "2024-06-01",
		Timeout:    90 * time.Second,
	}
}

// NewAzureOpenAIClient creates an Azure OpenAI-backed completion client.
func NewAzureOpenAIClient(cfg AzureConfig) (*AzureOpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azure API key is required")
	}
	if cfg.Endpoint == "" || cfg.Deployment == "" {
		return nil, fmt.Errorf("azure endpoint and deployment are required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-06-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &AzureOpenAIClient{
		apiKey:     cfg.APIKey,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		deployment: cfg.Deployment,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type azureMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type azureRequest struct {
	Messages       []azureMessage `json:"messages"`
	Temperature    float64        `json:"temperature,omitempty"`
	ResponseFormat *azureFormat   `json:"response_format,omitempty"`
}

type azureFormat struct {
	Type string `json:"type"`
}

type azureResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends the request and returns the raw JSON text.
func (c *AzureOpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]azureMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, azureMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, azureMessage{
		Role:    "user",
		Content: req.Prompt + schemaInstruction(req.Schema),
	})

	areq := azureRequest{Messages: messages, Temperature: req.Temperature}
	if req.Schema != nil {
		areq.ResponseFormat = &azureFormat{Type: "json_object"}
	}
	body, err := json.Marshal(areq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("azure completion request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed azureResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("azure API error %s: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("azure API returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("azure returned an empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}
