package agentcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sgalabs/agentflow/internal/log"
)

const tracerName = "github.com/sgalabs/agentflow/internal/agentcore"

// APIError is a non-2xx response from the AgentCore API.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("agentcore: http %d: %s", e.StatusCode, e.Body)
}

// Client talks to the AgentCore API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client (for tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient constructs a Client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	// The event stream must outlive the per-request timeout, which bounds the
	// whole body read. The streaming client shares the transport but carries
	// no Timeout; cancellation comes from the request context.
	c.stream = &http.Client{Transport: c.http.Transport}
	return c
}

// Invoke calls POST /invoke with the given action and arguments.
func (c *Client) Invoke(ctx context.Context, action string, args map[string]any) (InvokeResponse, error) {
	ctx, span := c.tracer.Start(ctx, "agentcore.Invoke",
		trace.WithAttributes(attribute.String("agentcore.action", action)))
	defer span.End()

	var out InvokeResponse
	err := c.postJSON(ctx, "/invoke", InvokeRequest{Action: action, Args: args}, &out)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return InvokeResponse{}, err
	}
	span.SetAttributes(
		attribute.Bool("agentcore.accepted", out.Accepted),
		attribute.String("agentcore.handle", out.Handle),
	)
	return out, nil
}

// CheckStatus calls GET /operations/{handle}.
func (c *Client) CheckStatus(ctx context.Context, handle string) (StatusResponse, error) {
	ctx, span := c.tracer.Start(ctx, "agentcore.CheckStatus",
		trace.WithAttributes(attribute.String("agentcore.handle", handle)))
	defer span.End()

	endpoint, err := c.resolve("/operations/" + url.PathEscape(handle))
	if err != nil {
		return StatusResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusResponse{}, err
	}
	c.applyHeaders(req)

	var out StatusResponse
	if err := c.do(req, &out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return StatusResponse{}, err
	}
	span.SetAttributes(attribute.String("agentcore.status", out.Status))
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	endpoint, err := c.resolve(path)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	log.Debug(log.CatClient, "AgentCore request", "method", req.Method, "url", req.URL.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding agentcore response: %w", err)
	}
	return nil
}

func (c *Client) resolve(path string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
	}
	rel, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(rel).String(), nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
