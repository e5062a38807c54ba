package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/ragchat-go/internal/logging"
)

// Backend endpoint paths.
const (
	PathChat          = "/api/v1/chat/generic"
	PathChatStream    = "/api/v1/chat/generic/stream"
	PathVectorSearch  = "/api/v1/rag/vectors/search"
	PathDocumentsList = "/api/v1/rag/document/imported/all"
)

// maxErrorBody caps how much of a failed response body is kept on a
// TransportError.
const maxErrorBody = 512

// defaultTimeout bounds non-streaming requests. Streams have no client-side
// timeout and rely on the transport's own limits.
const defaultTimeout = 2 * time.Minute

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the backend root, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is sent as a Bearer token when non-empty.
	APIKey string
	// Transport overrides the HTTP transport (tests inject httptest servers'
	// clients here). Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Timeout bounds non-streaming requests. Defaults to 2 minutes.
	Timeout time.Duration
	// RateLimit is the sustained outbound request rate (requests/second).
	// Zero disables client-side limiting.
	RateLimit float64
	// RateBurst is the token-bucket burst size. Defaults to 1 when RateLimit is set.
	RateBurst int
}

// Client talks to the chat backend. It is safe for concurrent use.
type Client struct {
	// baseURL is the parsed backend root.
	baseURL *url.URL
	// apiKey is the optional Bearer token.
	apiKey string
	// rest is used for request/response endpoints.
	rest *http.Client
	// stream is used for the SSE endpoint and has no overall timeout.
	stream *http.Client
	// limiter throttles outbound requests; nil when disabled.
	limiter *rate.Limiter
}

// NewClient constructs a Client from cfg.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("api: BaseURL must not be empty")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: BaseURL %q must use http or https", cfg.BaseURL)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL: u,
		apiKey:  cfg.APIKey,
		rest:    &http.Client{Transport: transport, Timeout: timeout},
		stream:  &http.Client{Transport: transport},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// BaseURL returns the backend root the client was configured with.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// Chat sends a non-streaming prompt and returns the complete response.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var out ChatResponse
	if err := c.doJSON(ctx, "chat", http.MethodPost, PathChat, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchVectors runs a similarity search. useRewrite is sent as the
// useRAGRewrite query parameter when non-nil.
func (c *Client) SearchVectors(ctx context.Context, req VectorSearchRequest, useRewrite *bool) (*VectorSearchResponse, error) {
	var q url.Values
	if useRewrite != nil {
		q = url.Values{"useRAGRewrite": {strconv.FormatBool(*useRewrite)}}
	}
	var out VectorSearchResponse
	if err := c.doJSON(ctx, "search", http.MethodPost, PathVectorSearch, q, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDocuments returns every document imported into the backend.
func (c *Client) ListDocuments(ctx context.Context) ([]DocumentImport, error) {
	var out []DocumentImport
	if err := c.doJSON(ctx, "documents", http.MethodGet, PathDocumentsList, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenStream posts req to the streaming chat endpoint and returns the live
// response once a 2xx status has been received. The caller owns resp.Body.
func (c *Client) OpenStream(ctx context.Context, req ChatRequest) (*http.Response, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, PathChatStream, nil, req)
	if err != nil {
		return nil, fmt.Errorf("api: stream: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	if err := c.wait(ctx); err != nil {
		return nil, &TransportError{Op: "stream", Err: err}
	}

	logging.FromContext(ctx).Debug("api: opening stream",
		slog.String("url", httpReq.URL.String()),
	)

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "stream", Err: err}
	}
	if err := checkStatus("stream", resp); err != nil {
		return nil, err
	}
	if resp.Body == nil {
		return nil, ErrNoBody
	}
	return resp, nil
}

// doJSON performs a request/response round trip, encoding in as the JSON body
// (when non-nil) and decoding the response into out.
func (c *Client) doJSON(ctx context.Context, op, method, path string, q url.Values, in, out any) error {
	req, err := c.newRequest(ctx, method, path, q, in)
	if err != nil {
		return fmt.Errorf("api: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	if err := c.wait(ctx); err != nil {
		return &TransportError{Op: op, Err: err}
	}

	start := time.Now()
	resp, err := c.rest.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	logging.FromContext(ctx).Debug("api: request",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: %s: decode response: %w", op, err)
	}
	return nil
}

// newRequest builds an HTTP request against the backend with auth and
// content headers applied.
func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, in any) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// wait blocks until the rate limiter admits one request or ctx ends.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// checkStatus converts a non-2xx response into a *TransportError, consuming
// and closing the body.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(snippet)),
	}
}
