// Package delivery hands finished emails to the outbound mail service.
// Negotiation emails go out as drafts for human review; informational
// replies are sent directly.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"loadpilot/internal/types"
)

// OutboundEmail is one email handed to the mail service.
type OutboundEmail struct {
	ThreadID string `json:"threadId"`
	LoadID   string `json:"loadId"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// Sender delivers outbound email. SendReply transmits immediately;
// SendDraft queues the email for a human dispatcher to approve.
type Sender interface {
	SendReply(ctx context.Context, email OutboundEmail) error
	SendDraft(ctx context.Context, email OutboundEmail) error
}

// HTTPSender posts emails to the mail service's REST endpoints.
type HTTPSender struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPSender(baseURL string, timeout time.Duration, logger *zap.Logger) (*HTTPSender, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("delivery base URL is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

func (s *HTTPSender) SendReply(ctx context.Context, email OutboundEmail) error {
	return s.post(ctx, "/v1/emails/send", email)
}

func (s *HTTPSender) SendDraft(ctx context.Context, email OutboundEmail) error {
	return s.post(ctx, "/v1/emails/draft", email)
}

func (s *HTTPSender) post(ctx context.Context, path string, email OutboundEmail) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &types.ExternalServiceError{Service: "delivery", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &types.ExternalServiceError{
			Service: "delivery",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	s.logger.Info("email handed to delivery",
		zap.String("path", path),
		zap.String("thread_id", email.ThreadID),
		zap.String("load_id", email.LoadID))
	return nil
}
