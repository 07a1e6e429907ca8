// Package aps is a thin client for the Autodesk Platform Services REST APIs
// used by the viewer backend: authentication, OSS buckets and objects, model
// derivative jobs and data management browsing.
package aps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://developer.api.autodesk.com"
	DefaultRegion    = "US"
	DefaultTimeout   = 60 * time.Second
	DefaultRateLimit = 10 // requests per second

	// MaxPages bounds every pagination walk so a cursor that never terminates
	// cannot loop forever.
	MaxPages = 1000
)

// Client calls the OSS and Model Derivative APIs with a service token and the
// Data Management API with a caller supplied user token.
type Client struct {
	baseURL         string
	region          string
	httpClient      *http.Client
	limiter         *rate.Limiter
	tokens          oauth2.TokenSource
	uploadChunkSize int64
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithRegion sets the OSS storage region used when creating buckets
func WithRegion(region string) ClientOption {
	return func(c *Client) {
		if region != "" {
			c.region = region
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithUploadChunkSize sets the size of each signed S3 upload part
func WithUploadChunkSize(size int64) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.uploadChunkSize = size
		}
	}
}

// NewClient creates a client that authenticates OSS and derivative calls with
// tokens from serviceTokens.
func NewClient(serviceTokens oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:         DefaultBaseURL,
		region:          DefaultRegion,
		httpClient:      &http.Client{Timeout: DefaultTimeout},
		limiter:         rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		tokens:          serviceTokens,
		uploadChunkSize: defaultUploadChunkSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// serviceToken returns the current two-legged access token.
func (c *Client) serviceToken() (string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return "", TokenError(err)
	}
	return tok.AccessToken, nil
}

// TokenError converts an oauth2 token endpoint failure into the error taxonomy.
func TokenError(err error) error {
	var re *oauth2.RetrieveError
	if apperrors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", apperrors.ErrAuth, describeTokenError(re))
		}
		return fmt.Errorf("%w: token endpoint status %d", apperrors.ErrUpstream, re.Response.StatusCode)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrUpstream, err)
}

func describeTokenError(re *oauth2.RetrieveError) string {
	if re.ErrorDescription != "" {
		return re.ErrorDescription
	}
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	return fmt.Sprintf("token endpoint status %d", re.Response.StatusCode)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newJSONRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// send performs req with the bearer token and decodes a JSON response into
// out when out is non-nil. Non-2xx responses become *errors.UpstreamError.
func (c *Client) send(req *http.Request, token string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.Path).Dur("elapsed", elapsed).Msg("APS request failed")
		return fmt.Errorf("%w: %s %s: %v", apperrors.ErrUpstream, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	log.Debug().Str("method", req.Method).Str("url", req.URL.Path).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("APS request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return newUpstreamError(req, resp.StatusCode, body)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", apperrors.ErrUpstream, err)
	}
	return nil
}

func newUpstreamError(req *http.Request, status int, body []byte) *apperrors.UpstreamError {
	ue := &apperrors.UpstreamError{
		Method:     req.Method,
		URL:        req.URL.Path,
		StatusCode: status,
	}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		ue.Reason = parsed.Get("reason").String()
		ue.ErrorCode = firstString(parsed, "errorCode", "code")
		ue.Detail = firstString(parsed, "detail", "developerMessage", "diagnostic", "errors.0.detail")
	} else if len(body) > 0 {
		ue.Detail = string(body)
	}
	return ue
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}

// startAtFromNext extracts the startAt cursor from an OSS "next" link.
func startAtFromNext(next string) (string, bool) {
	if next == "" {
		return "", false
	}
	u, err := url.Parse(next)
	if err != nil {
		return "", false
	}
	startAt := u.Query().Get("startAt")
	return startAt, startAt != ""
}
