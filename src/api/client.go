// Package api is the REST client for the crawl service: authentication and
// CRUD on the crawl-job (URL) resource.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/orchestra-mcp/crawlwatch/src/credentials"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

var (
	// ErrUnauthorized is wrapped by errors for 401 responses. The stored
	// token has already been cleared when it is returned.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRequest is wrapped by every other non-2xx response.
	ErrRequest = errors.New("api request failed")
)

// Error is a non-2xx response from the service.
type Error struct {
	Status  int
	Message string
	Code    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (status %d, code %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *Error) Unwrap() error {
	if e.Status == fasthttp.StatusUnauthorized {
		return ErrUnauthorized
	}
	return ErrRequest
}

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Success    *bool           `json:"success"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
	Pagination *Pagination     `json:"pagination"`
}

// Client talks to the crawl service REST API.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	tokens  credentials.Store
	timeout time.Duration
	logger  zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying fasthttp client.
func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a REST client for baseURL. tokens supplies the bearer token
// and receives new tokens from Login and RefreshToken.
func New(baseURL string, tokens credentials.Store, timeout time.Duration, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &fasthttp.Client{
			Name:                "crawlwatch",
			MaxIdleConnDuration: 30 * time.Second,
		},
		tokens:  tokens,
		timeout: timeout,
		logger:  logger.With().Str("component", "api-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAuthenticated reports whether a token is stored.
func (c *Client) IsAuthenticated() bool {
	return c.tokens.Token() != ""
}

// do sends one request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (*Pagination, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.baseURL + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.SetBody(data)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	isJSON := strings.Contains(string(resp.Header.ContentType()), "application/json")

	var env envelope
	var decodeErr error
	if isJSON && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			env = envelope{}
			decodeErr = fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}

	// A failed request reports its status even when the body is unreadable.
	if status < 200 || status >= 300 {
		apiErr := &Error{Status: status, Message: env.Message, Code: env.Code}
		if apiErr.Message == "" {
			apiErr.Message = env.Error
		}
		if apiErr.Message == "" && !isJSON {
			apiErr.Message = strings.TrimSpace(string(resp.Body()))
		}
		if apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("HTTP %d", status)
		}
		if status == fasthttp.StatusUnauthorized {
			if err := c.tokens.Clear(); err != nil {
				c.logger.Error().Err(err).Msg("failed to clear token after 401")
			}
		}
		c.logger.Debug().Str("method", method).Str("path", path).Int("status", status).Msg("request failed")
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode %s %s data: %w", method, path, err)
		}
	}
	return env.Pagination, nil
}
