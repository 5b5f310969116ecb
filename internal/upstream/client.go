// Package upstream implements the upstream client (C7): a thin HTTP invoker
// for the v1internal generation surface. It injects auth and the shared
// identity headers and performs no retry of its own; retry, rotation, and
// error classification are the dispatch engine's job.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
)

// UserAgent is the identity string every v1internal request presents,
// matching the client the upstream expects to see.
const UserAgent = "antigravity/1.15.8 windows/amd64"

// Method selects the v1internal RPC to invoke.
type Method string

const (
	MethodGenerateContent       Method = "generateContent"
	MethodStreamGenerateContent Method = "streamGenerateContent"
)

// Response wraps the raw HTTP response: status, headers, and an
// still-open body the caller is responsible for closing.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client issues v1internal requests against the first configured endpoint,
// unless a caller picks one with CallV1InternalAt. It holds no per-request
// state; callers pass the access
// token and body on every call.
type Client struct {
	httpClient *http.Client
	endpoints  []string
}

// NewClient builds an upstream client with a 10-minute overall request timeout, since
// generation responses (especially thinking models) can run for minutes.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		endpoints:  config.UpstreamEndpointFallbacks,
	}
}

// CallV1Internal issues method against the first configured endpoint with
// no extra headers. See CallV1InternalWithHeaders for the general form.
func (c *Client) CallV1Internal(ctx context.Context, method Method, accessToken string, body []byte) (*Response, error) {
	return c.CallV1InternalWithHeaders(ctx, method, accessToken, body, nil)
}

// CallV1InternalWithHeaders issues method against the first configured
// endpoint, merging extraHeaders on top of the standard auth/identity
// headers. It does not retry across endpoints or interpret the response
// status; the dispatch engine owns both.
func (c *Client) CallV1InternalWithHeaders(ctx context.Context, method Method, accessToken string, body []byte, extraHeaders map[string]string) (*Response, error) {
	if len(c.endpoints) == 0 {
		return nil, fmt.Errorf("upstream: no endpoints configured")
	}
	return c.callEndpoint(ctx, c.endpoints[0], method, accessToken, body, extraHeaders)
}

// CallV1InternalAt issues method against a specific endpoint, for callers
// that need an endpoint other than the first configured one.
func (c *Client) CallV1InternalAt(ctx context.Context, endpoint string, method Method, accessToken string, body []byte, extraHeaders map[string]string) (*Response, error) {
	return c.callEndpoint(ctx, endpoint, method, accessToken, body, extraHeaders)
}

// Endpoints returns the configured endpoint fallback order.
func (c *Client) Endpoints() []string {
	return c.endpoints
}

func (c *Client) callEndpoint(ctx context.Context, endpoint string, method Method, accessToken string, body []byte, extraHeaders map[string]string) (*Response, error) {
	url := endpoint + "/v1internal:" + string(method)
	if method == MethodStreamGenerateContent {
		url += "?alt=sse"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Goog-Api-Client", "google-cloud-sdk vscode_cloudshelleditor/0.1")

	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// ReadAll drains and closes resp's body, for the non-streaming / error path
// where the whole response is needed as a single buffer.
func ReadAll(resp *Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
