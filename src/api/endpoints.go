package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/valyala/fasthttp"
)

const (
	pathLogin   = "/api/auth/login"
	pathLogout  = "/api/auth/logout"
	pathRefresh = "/api/auth/refresh"
	pathMe      = "/api/auth/me"
	pathURLs    = "/api/urls"
)

func urlPath(id string, action ...string) string {
	p := pathURLs + "/" + url.PathEscape(id)
	for _, a := range action {
		p += "/" + a
	}
	return p
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

// Login authenticates and stores the returned token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	body := map[string]string{"username": username, "password": password}
	if _, err := c.do(ctx, fasthttp.MethodPost, pathLogin, nil, body, &out); err != nil {
		return nil, err
	}
	if out.Token != "" {
		if err := c.tokens.SetToken(out.Token); err != nil {
			return nil, fmt.Errorf("store token: %w", err)
		}
	}
	return &out, nil
}

// Logout ends the session. The stored token is cleared even if the
// request fails.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, fasthttp.MethodPost, pathLogout, nil, nil, nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("logout request failed")
	}
	if clearErr := c.tokens.Clear(); clearErr != nil {
		return fmt.Errorf("clear token: %w", clearErr)
	}
	return nil
}

// RefreshToken exchanges the current token for a new one and stores it.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if _, err := c.do(ctx, fasthttp.MethodPost, pathRefresh, nil, nil, &out); err != nil {
		return "", err
	}
	if out.Token != "" {
		if err := c.tokens.SetToken(out.Token); err != nil {
			return "", fmt.Errorf("store token: %w", err)
		}
	}
	return out.Token, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*types.User, error) {
	var u types.User
	if _, err := c.do(ctx, fasthttp.MethodGet, pathMe, nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListParams filters and pages ListURLs. Zero values are omitted.
type ListParams struct {
	Page   int
	Limit  int
	Sort   string
	Order  string
	Search string
}

func (p ListParams) values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Sort != "" {
		v.Set("sort", p.Sort)
	}
	if p.Order != "" {
		v.Set("order", p.Order)
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	return v
}

// ListURLs returns submitted URLs. Pagination is nil when the service
// does not page the result.
func (c *Client) ListURLs(ctx context.Context, params ListParams) ([]types.URLData, *Pagination, error) {
	var urls []types.URLData
	page, err := c.do(ctx, fasthttp.MethodGet, pathURLs, params.values(), nil, &urls)
	if err != nil {
		return nil, nil, err
	}
	if urls == nil {
		urls = []types.URLData{}
	}
	return urls, page, nil
}

// CreateURL submits a URL for crawling.
func (c *Client) CreateURL(ctx context.Context, rawURL string) (*types.URLData, error) {
	var out types.URLData
	if _, err := c.do(ctx, fasthttp.MethodPost, pathURLs, nil, map[string]string{"url": rawURL}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetURL fetches one URL with its analysis.
func (c *Client) GetURL(ctx context.Context, id string) (*types.URLData, error) {
	var out types.URLData
	if _, err := c.do(ctx, fasthttp.MethodGet, urlPath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteURLs removes URLs by id.
func (c *Client) DeleteURLs(ctx context.Context, ids []string) error {
	_, err := c.do(ctx, fasthttp.MethodDelete, pathURLs, nil, map[string][]string{"ids": ids}, nil)
	return err
}

// StartCrawling queues a crawl for id.
func (c *Client) StartCrawling(ctx context.Context, id string) error {
	_, err := c.do(ctx, fasthttp.MethodPost, urlPath(id, "start"), nil, nil, nil)
	return err
}

// StopCrawling cancels a running crawl for id.
func (c *Client) StopCrawling(ctx context.Context, id string) error {
	_, err := c.do(ctx, fasthttp.MethodPost, urlPath(id, "stop"), nil, nil, nil)
	return err
}

// RerunAnalysis re-queues analysis for id.
func (c *Client) RerunAnalysis(ctx context.Context, id string) error {
	_, err := c.do(ctx, fasthttp.MethodPost, urlPath(id, "rerun"), nil, nil, nil)
	return err
}
