package transport

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

// HTTPClient abstracts HTTP operations for testability.
// Use http.Client for production; MockHTTPClient for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is the normalized outcome of one backend call.
type Result struct {
	// OK reports transport-level success: the backend answered with a 2xx.
	// Protocol-level acceptance is the adapter's judgement, not ours.
	OK         bool
	StatusCode int
	// Body is the parsed JSON response. A 2xx with a non-JSON body becomes
	// {"message": <text>} so adapters always see a map.
	Body map[string]any
	// Message describes the failure when OK is false.
	Message string
}

// Client performs backend calls with a per-request timeout.
type Client struct {
	httpClient HTTPClient
	timeout    time.Duration
}

// NewClient builds a client. A nil httpClient uses http.DefaultClient; a
// non-positive timeout defaults to 10 seconds.
func NewClient(httpClient HTTPClient, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{httpClient: httpClient, timeout: timeout}
}

// PostJSON sends a JSON payload and normalizes the response.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Message: fmt.Sprintf("failed to encode request: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Message: fmt.Sprintf("bad request URL %q: %v", url, err)}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Get issues a GET to a fully built URL and normalizes the response.
func (c *Client) Get(ctx context.Context, url string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Message: fmt.Sprintf("bad request URL %q: %v", url, err)}
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) Result {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Message: describeNetworkError(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	parsed := parseBody(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			StatusCode: resp.StatusCode,
			Body:       parsed,
			Message:    failureMessage(resp.StatusCode, parsed),
		}
	}

	return Result{OK: true, StatusCode: resp.StatusCode, Body: parsed}
}

// parseBody decodes a JSON object body. Anything else, including valid JSON
// that is not an object, is wrapped as {"message": <text>}.
func parseBody(raw []byte) map[string]any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}
	}

	var body map[string]any
	if err := json.Unmarshal(trimmed, &body); err == nil {
		return body
	}
	return map[string]any{"message": string(trimmed)}
}

// failureMessage extracts a human-readable reason from an error response,
// falling back to the HTTP status.
func failureMessage(status int, body map[string]any) string {
	for _, key := range []string{"msg", "message", "error"} {
		if text, ok := body[key].(string); ok && text != "" {
			return text
		}
	}
	return fmt.Sprintf("backend returned HTTP %d", status)
}

// describeNetworkError turns transport failures into operator-readable text.
func describeNetworkError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"):
		return "backend request timed out"
	case strings.Contains(msg, "connection refused"):
		return "backend connection refused"
	default:
		return fmt.Sprintf("backend request failed: %v", err)
	}
}
