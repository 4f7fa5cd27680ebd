// Package chat is a client for the message delivery service. Jobs use it to
// deliver the gift message once the charge lands and to fan a media message
// out to its recipients.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config holds chat service client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the message delivery service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a chat client.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// APIError is a non-2xx response from the delivery service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat API error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the send can help.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// GiftMessage delivers a gift badge to a recipient. The expire timer mirrors
// the recipient thread's disappearing-message setting so the gift message
// does not outlive the conversation around it.
type GiftMessage struct {
	RecipientID        string `json:"recipient_id"`
	BadgeLevel         uint64 `json:"badge_level"`
	ReceiptReference   string `json:"receipt_reference"`
	Message            string `json:"message,omitempty"`
	ExpireTimerSeconds int64  `json:"expire_timer_seconds,omitempty"`
}

// MediaMessage delivers attachments to a recipient. Reference identifies
// the send so the delivery service can drop duplicates from retried jobs.
type MediaMessage struct {
	RecipientID   string   `json:"recipient_id"`
	AttachmentIDs []string `json:"attachment_ids"`
	Body          string   `json:"body,omitempty"`
	Reference     string   `json:"reference,omitempty"`
}

// SendGiftMessage delivers the gift message.
func (c *Client) SendGiftMessage(ctx context.Context, msg GiftMessage) error {
	if err := c.post(ctx, "/v1/messages/gift", msg); err != nil {
		return err
	}

	c.logger.Info("Gift message sent",
		slog.String("recipient_id", msg.RecipientID),
		slog.Uint64("badge_level", msg.BadgeLevel),
	)
	return nil
}

// SendMediaMessage delivers a media message.
func (c *Client) SendMediaMessage(ctx context.Context, msg MediaMessage) error {
	if err := c.post(ctx, "/v1/messages/media", msg); err != nil {
		return err
	}

	c.logger.Info("Media message sent",
		slog.String("recipient_id", msg.RecipientID),
		slog.Int("attachment_count", len(msg.AttachmentIDs)),
	)
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	return nil
}
