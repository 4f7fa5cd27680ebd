package recipients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Profile is the profile service's view of a recipient.
type Profile struct {
	DisplayName         string `json:"display_name"`
	CanReceiveGifts     bool   `json:"can_receive_gifts"`
	IdentityKey         string `json:"identity_key"`
	MessageTimerSeconds int64  `json:"message_timer_seconds"`
}

// FetcherConfig holds profile service client configuration
type FetcherConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Fetcher pulls profiles from the profile service.
type Fetcher struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewFetcher creates a profile fetcher.
func NewFetcher(cfg *FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Fetcher{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchProfile fetches the recipient's current profile. A 404 maps to
// ErrNotFound; transport failures pass through for the caller's
// cached-profile fallback.
func (f *Fetcher) FetchProfile(ctx context.Context, recipientID string) (*Profile, error) {
	reqURL := fmt.Sprintf("%s/v1/profile/%s", f.baseURL, url.PathEscape(recipientID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile fetch failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("profile service returned %s", resp.Status)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	return &profile, nil
}
