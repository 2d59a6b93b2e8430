package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"brand-catalog/internal/content"
)

const maxResponseBytes = 32 << 20 // screenshots travel inline as data URIs

// Request is the capture provider request body.
type Request struct {
	URL string `json:"url"`
}

// Response is the capture provider response envelope.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client calls an external capture endpoint and normalises what it returns.
type Client struct {
	endpoint string
	creds    CredentialSource
	client   *http.Client
}

// NewClient creates a capture client for endpoint.
func NewClient(endpoint string, creds CredentialSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		creds:    creds,
		client:   &http.Client{Timeout: timeout},
	}
}

// Capture asks the provider to render targetURL. On success the returned slice is
// never nil; invalid entries of an array payload are dropped and logged.
func (c *Client) Capture(ctx context.Context, targetURL string) ([]content.PopupContent, error) {
	key, err := c.creds.Credential(ctx)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Reason: "capture provider credential not configured", Err: err}
	}

	body, err := json.Marshal(Request{URL: targetURL})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Reason: "failed to encode capture request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindConfig, Reason: "invalid capture endpoint", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Reason: fmt.Sprintf("failed to reach capture provider: %v", err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Reason: "failed to read capture response", Err: err}
	}

	var env Response
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := fmt.Sprintf("capture provider returned status %d", resp.StatusCode)
		if decodeErr == nil && env.Error != "" {
			reason = env.Error
		}
		return nil, &Error{Kind: KindTransport, Reason: reason}
	}
	if decodeErr != nil {
		return nil, &Error{Kind: KindTransport, Reason: "invalid response from capture provider", Err: decodeErr}
	}
	if !env.Success {
		reason := env.Error
		if reason == "" {
			reason = "capture failed"
		}
		return nil, &Error{Kind: KindProvider, Reason: reason}
	}

	items, dropped, err := Normalize(env.Data)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Reason: err.Error(), Err: err}
	}
	if dropped > 0 {
		log.Warn().Str("url", targetURL).Int("dropped", dropped).Int("kept", len(items)).
			Msg("invalid popup content dropped from capture")
	}
	return items, nil
}

// Normalize maps every provider data shape onto a popup sequence: absent or null
// data, a bare popup object, an array of popups, or an object wrapping a nested
// data array. A bare object that is not a popup is an error.
func Normalize(data json.RawMessage) ([]content.PopupContent, int, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []content.PopupContent{}, 0, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, 0, fmt.Errorf("decode capture data: %w", err)
	}

	switch t := v.(type) {
	case nil, []any:
	case map[string]any:
		if nested, ok := t["data"].([]any); ok && t["image"] == nil {
			v = nested
		} else if !content.IsValidPopup(t) {
			return nil, 1, content.ErrInvalidPopup
		}
	default:
		return nil, 1, content.ErrInvalidPopup
	}

	items, dropped := content.ValidatePopups(v)
	return items, dropped, nil
}

// IsConfigError reports whether err is a missing or invalid capture configuration.
func IsConfigError(err error) bool {
	return KindOf(err) == KindConfig || errors.Is(err, ErrMissingCredential)
}
