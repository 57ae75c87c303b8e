// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for the completions API.
const (
	// DefaultBaseURL is the base URL of the OpenAI API.
	DefaultBaseURL = "https://api.openai.com/v1"

	// completionsPath is appended to the base URL for every request.
	completionsPath = "/chat/completions"

	// DefaultModel is used when the caller does not pick one.
	DefaultModel = "gpt-3.5-turbo"

	// DefaultTemperature is the sampling temperature used by default.
	DefaultTemperature = 0.7

	// DefaultMaxTokens caps the completion length by default.
	DefaultMaxTokens = 2000

	// DefaultTimeout bounds non-streaming requests. Streaming requests are
	// bounded by their context only.
	DefaultTimeout = 60 * time.Second

	// MaxErrorBodySize is the most we read from an error response.
	MaxErrorBodySize = 1 << 20

	// validationPrompt and validationMaxTokens shape the key probe.
	validationPrompt    = "This is a test."
	validationMaxTokens = 5

	userAgent = "rigrun-chat/0.1.0"
)

var (
	// sharedTransport pools connections for every client built by NewClient.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	// sharedHTTPClient serves bounded, non-streaming requests.
	sharedHTTPClient = &http.Client{
		Transport: sharedTransport,
		Timeout:   DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; the caller's context controls it.
	sharedStreamingClient = &http.Client{
		Transport: sharedTransport,
	}
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// Role values accepted by the completions API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of the outbound conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// Params are the model parameters of one request.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// DefaultParams returns the built-in model parameters.
func DefaultParams() Params {
	return Params{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// withDefaults fills zero fields. A zero temperature is a valid choice and
// is kept.
func (p Params) withDefaults() Params {
	if strings.TrimSpace(p.Model) == "" {
		p.Model = DefaultModel
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	return p
}

// ChatRequest is the request body of the chat completions endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client issues requests to the chat completions endpoint. It holds no
// per-request state and is safe for concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// NewClient creates a client for the default endpoint.
func NewClient() *Client {
	return &Client{
		baseURL:      DefaultBaseURL,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		logger:       slog.Default(),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	if url = strings.TrimSpace(url); url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	return c
}

// WithHTTPClient replaces the HTTP client for both streaming and
// non-streaming requests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
		c.streamClient = hc
	}
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.httpClient = &http.Client{
			Transport: c.httpClient.Transport,
			Timeout:   timeout,
		}
	}
	return c
}

// WithLogger sets the logger for request and response lines.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Endpoint returns the full chat completions URL.
func (c *Client) Endpoint() string {
	return c.baseURL + completionsPath
}

// Send posts the conversation and returns the open event stream.
//
// history should start with the system entry. The returned Stream must be
// closed by the caller. Failures are one of AuthError, RateLimitError,
// ServiceError or NetworkError; a canceled ctx surfaces as a NetworkError
// wrapping the context error.
func (c *Client) Send(ctx context.Context, history []ChatMessage, apiKey string, params Params) (*Stream, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, &AuthError{Missing: true}
	}

	params = params.withDefaults()
	temperature := params.Temperature
	reqBody := ChatRequest{
		Model:       params.Model,
		Messages:    history,
		Stream:      true,
		MaxTokens:   params.MaxTokens,
		Temperature: &temperature,
	}

	resp, err := c.post(ctx, c.streamClient, apiKey, reqBody, "text/event-stream")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, handleErrorResponse(resp.StatusCode, readErrorBody(resp))
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &NetworkError{Status: resp.StatusCode, Err: fmt.Errorf("empty response body")}
	}

	return newStream(resp), nil
}

// ValidateKey probes the endpoint with a tiny non-streaming request. A nil
// return means the upstream accepted the key.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &AuthError{Missing: true}
	}

	reqBody := ChatRequest{
		Model:     DefaultModel,
		Messages:  []ChatMessage{NewUserMessage(validationPrompt)},
		MaxTokens: validationMaxTokens,
	}

	resp, err := c.post(ctx, c.httpClient, apiKey, reqBody, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body := readErrorBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp.StatusCode, body)
	}
	return nil
}

// post marshals body and performs the request. Transport failures come back
// as NetworkError.
func (c *Client) post(ctx context.Context, hc *http.Client, apiKey string, body ChatRequest, accept string) (*http.Response, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	c.setHeaders(req, apiKey, accept)
	c.logRequest(req, apiKey)

	start := time.Now()
	resp, err := hc.Do(req)

	// Keep the credential out of anything that might log the request later.
	req.Header.Del("Authorization")

	if err != nil {
		c.logger.Debug("api request failed", "path", req.URL.Path, "error", err, "duration", time.Since(start))
		return nil, &NetworkError{Err: err}
	}
	c.logResponse(req, resp, time.Since(start))
	return resp, nil
}

// setHeaders sets the required headers for API requests.
func (c *Client) setHeaders(req *http.Request, apiKey, accept string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
}

// readErrorBody reads at most MaxErrorBodySize bytes. Read failures yield
// whatever was read, which then fails to parse.
func readErrorBody(resp *http.Response) []byte {
	if resp.Body == nil {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
	return body
}

// =============================================================================
// LOGGING (no headers, no bodies, no key material)
// =============================================================================

func (c *Client) logRequest(req *http.Request, apiKey string) {
	c.logger.Debug("api request",
		"method", req.Method,
		"path", req.URL.Path,
		"key", KeyFingerprint(apiKey))
}

func (c *Client) logResponse(req *http.Request, resp *http.Response, duration time.Duration) {
	c.logger.Debug("api response",
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", duration)
}

// KeyFingerprint returns a short SHA-256 fingerprint of an API key, safe to
// log or display.
func KeyFingerprint(apiKey string) string {
	if apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:4])
}
