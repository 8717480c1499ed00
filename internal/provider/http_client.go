package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podforge/internal/domain"
	"podforge/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("provider: api key is required")

// Options configures the HTTP generation provider client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// HTTPClient performs HTTP calls against the provider's queue API.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type submitRequest struct {
	Kind        string `json:"kind"`
	Text        string `json:"text,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	Label       string `json:"label,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

type statusResponse struct {
	Status string `json:"status"`
	Result *struct {
		URL string `json:"url"`
	} `json:"result,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewHTTPClient constructs a client with sane defaults and injected dependencies.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("provider: base url is required")
	}
	return &HTTPClient{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Submit enqueues one chunk with the provider and returns its request id.
func (c *HTTPClient) Submit(ctx context.Context, in SubmitInput) (string, error) {
	body, err := json.Marshal(submitRequest{
		Kind:        string(in.Kind),
		Text:        in.Text,
		MediaURL:    in.MediaURL,
		Label:       in.Label,
		CallbackURL: in.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("provider: marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("provider: build submit request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider: submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("provider: read submit response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if c.logger != nil {
			c.logger.Warn().Int("status", resp.StatusCode).Str("body", truncate(string(raw), 256)).Msg("provider submit rejected")
		}
		return "", fmt.Errorf("%w: submit returned status %d", domain.ErrProviderFailure, resp.StatusCode)
	}

	var parsed submitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("provider: decode submit response: %w", err)
	}
	if parsed.RequestID == "" {
		return "", errors.New("provider: submit response missing request id")
	}
	return parsed.RequestID, nil
}

// PullStatus fetches the provider's current status for a request id.
func (c *HTTPClient) PullStatus(ctx context.Context, requestID string) (*PullResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generations/"+requestID, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: pull status: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("provider: read status response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status returned %d", domain.ErrProviderFailure, resp.StatusCode)
	}

	var parsed statusResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("provider: decode status response: %w", err)
	}
	out := &PullResult{Status: parsed.Status, Error: parsed.Error}
	if parsed.Result != nil {
		out.ResultURL = parsed.Result.URL
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Client = (*HTTPClient)(nil)
