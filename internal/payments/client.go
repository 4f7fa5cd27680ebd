// Package payments is a client for the payment processor's HTTP API. It
// covers the slice of the API the gifting flow needs: creating a payment
// intent, tokenized payment methods, confirming the intent, and reading an
// intent's status back for idempotent re-checks.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config holds payment API client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the payment processor.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a payment API client.
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

// IntentStatus is the processor-side lifecycle of a payment intent.
type IntentStatus string

const (
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusSucceeded             IntentStatus = "succeeded"
	IntentStatusCanceled              IntentStatus = "canceled"
)

// Charged reports whether the intent reached a state where money moved or
// is moving. Processing counts: the charge was accepted even though it has
// not settled.
func (s IntentStatus) Charged() bool {
	return s == IntentStatusSucceeded || s == IntentStatusProcessing
}

// PaymentIntent is the processor's record of an intended charge.
type PaymentIntent struct {
	ID           string       `json:"id"`
	ClientSecret string       `json:"client_secret"`
	Status       IntentStatus `json:"status"`
}

// APIError is a definitive rejection from the payment processor, as opposed
// to a transport failure where the outcome is unknown.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether retrying the request can help.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type createIntentRequest struct {
	Amount      Amount `json:"amount"`
	Level       uint64 `json:"level"`
	Description string `json:"description,omitempty"`
}

// CreatePaymentIntent registers an intended charge for the given amount and
// badge level and returns the intent with its client secret.
func (c *Client) CreatePaymentIntent(ctx context.Context, amount Amount, level uint64) (*PaymentIntent, error) {
	if err := amount.Validate(); err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	var intent PaymentIntent
	err := c.do(ctx, http.MethodPost, "/v1/payment_intents", "", createIntentRequest{
		Amount: amount,
		Level:  level,
	}, &intent)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Payment intent created",
		slog.String("payment_intent_id", intent.ID),
		slog.String("amount", amount.String()),
		slog.Uint64("level", level),
	)
	return &intent, nil
}

type createMethodRequest struct {
	Token string `json:"token"`
}

type createMethodResponse struct {
	ID string `json:"id"`
}

// CreatePaymentMethod exchanges a client-side tokenized payment source for
// a payment method id.
func (c *Client) CreatePaymentMethod(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("payment token is required")
	}

	var resp createMethodResponse
	err := c.do(ctx, http.MethodPost, "/v1/payment_methods", "", createMethodRequest{Token: token}, &resp)
	if err != nil {
		return "", err
	}

	c.logger.Info("Payment method created",
		slog.String("payment_method_id", resp.ID),
	)
	return resp.ID, nil
}

type confirmIntentRequest struct {
	PaymentMethod string `json:"payment_method"`
	ClientSecret  string `json:"client_secret"`
}

// ConfirmPaymentIntent asks the processor to execute the charge. The
// idempotency key makes a retried confirmation a no-op on the processor
// side, so a re-run after an unknown outcome cannot double-charge.
func (c *Client) ConfirmPaymentIntent(ctx context.Context, intentID, clientSecret, paymentMethodID, idempotencyKey string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := fmt.Sprintf("/v1/payment_intents/%s/confirm", url.PathEscape(intentID))
	err := c.do(ctx, http.MethodPost, path, idempotencyKey, confirmIntentRequest{
		PaymentMethod: paymentMethodID,
		ClientSecret:  clientSecret,
	}, &intent)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Payment intent confirmed",
		slog.String("payment_intent_id", intent.ID),
		slog.String("status", string(intent.Status)),
	)
	return &intent, nil
}

// GetPaymentIntent reads the intent's current state. Used to settle an
// unknown confirmation outcome before retrying.
func (c *Client) GetPaymentIntent(ctx context.Context, intentID, clientSecret string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := fmt.Sprintf("/v1/payment_intents/%s?client_secret=%s",
		url.PathEscape(intentID), url.QueryEscape(clientSecret))
	if err := c.do(ctx, http.MethodGet, path, "", nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

// do sends one API request. Non-2xx responses become *APIError; transport
// failures are returned as-is so callers can tell a rejection from an
// unknown outcome.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("payment API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope errorEnvelope
		if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr != nil || envelope.Error.Message == "" {
			envelope.Error.Code = "unknown"
			envelope.Error.Message = resp.Status
		}
		envelope.Error.StatusCode = resp.StatusCode
		return &envelope.Error
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
