// Package credentials obtains short-lived bearer tokens for realtime
// sessions.
package credentials

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
)

const (
	DefaultSessionsURL = "https://api.openai.com/v1/realtime/sessions"
	DefaultModel       = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice       = "coral"

	maxBodyBytes = 1 << 20
)

// Credentials identify one realtime session.
type Credentials struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// StatusError is a non-2xx answer from a credential endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("credentials: status %d", e.StatusCode)
	}
	return fmt.Sprintf("credentials: status %d: %s", e.StatusCode, body)
}

var ErrMissingToken = errors.New("credentials: response has no client_secret.value")

type sessionResponse struct {
	ID           string `json:"id"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Parse decodes a token endpoint body.
func Parse(body []byte) (Credentials, error) {
	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Credentials{}, fmt.Errorf("credentials: decode response: %w", err)
	}
	token := strings.TrimSpace(resp.ClientSecret.Value)
	if token == "" {
		return Credentials{}, ErrMissingToken
	}
	c := Credentials{SessionID: strings.TrimSpace(resp.ID), Token: token}
	if resp.ClientSecret.ExpiresAt > 0 {
		c.ExpiresAt = time.Unix(resp.ClientSecret.ExpiresAt, 0).UTC()
	}
	return c, nil
}

// HTTPSource fetches credentials from a token endpoint with GET.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSource{url: strings.TrimSpace(url), httpClient: client}
}

func (s *HTTPSource) Acquire(ctx context.Context) (Credentials, error) {
	if s == nil || s.url == "" {
		return Credentials{}, errors.New("credentials: token url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("credentials: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := do(s.httpClient, req)
	if err != nil {
		return Credentials{}, err
	}
	return Parse(body)
}

// Issuer mints credentials directly against the realtime sessions API with
// a long-lived API key. It backs the local token route.
type Issuer struct {
	apiKey     string
	url        string
	model      string
	voice      string
	httpClient *http.Client
}

type IssuerConfig struct {
	APIKey     string
	URL        string
	Model      string
	Voice      string
	HTTPClient *http.Client
}

func NewIssuer(cfg IssuerConfig) *Issuer {
	i := &Issuer{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		url:        strings.TrimSpace(cfg.URL),
		model:      strings.TrimSpace(cfg.Model),
		voice:      strings.TrimSpace(cfg.Voice),
		httpClient: cfg.HTTPClient,
	}
	if i.url == "" {
		i.url = DefaultSessionsURL
	}
	if i.model == "" {
		i.model = DefaultModel
	}
	if i.voice == "" {
		i.voice = DefaultVoice
	}
	if i.httpClient == nil {
		i.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return i
}

func (i *Issuer) Configured() bool {
	return i != nil && i.apiKey != ""
}

// Issue returns the raw session body from the sessions API.
func (i *Issuer) Issue(ctx context.Context) ([]byte, error) {
	if !i.Configured() {
		return nil, errors.New("credentials: api key is not configured")
	}
	payload, err := json.Marshal(map[string]string{"model": i.model, "voice": i.voice})
	if err != nil {
		return nil, fmt.Errorf("credentials: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("credentials: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+i.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return do(i.httpClient, req)
}

func (i *Issuer) Acquire(ctx context.Context) (Credentials, error) {
	body, err := i.Issue(ctx)
	if err != nil {
		return Credentials{}, err
	}
	return Parse(body)
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credentials: request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("credentials: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
