// Package httpapi holds the JSON-over-HTTP plumbing shared by the upstream,
// destination and mapping-queue clients.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Service names the remote system a request was sent to.
type Service string

const (
	ServiceOpenPecha  Service = "openpecha"
	ServiceWeBuddhist Service = "webuddhist"
	ServiceMapping    Service = "mapping"
)

const (
	DefaultTimeout  = 30 * time.Second
	maxResponseSize = 64 * 1024 * 1024
)

// ErrResponseTooLarge is returned when a response body is bigger than the
// client's limit. The body is not decoded.
var ErrResponseTooLarge = errors.New("response exceeds size limit")

// APIError is returned for every non-2xx response.
type APIError struct {
	Service Service
	Method  string
	Path    string
	Status  int
	Detail  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s %s returned HTTP %d: %s", e.Service, e.Method, e.Path, e.Status, e.Detail)
}

// TransportError is returned when no HTTP response was received at all.
type TransportError struct {
	Service Service
	Method  string
	Path    string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request %s %s failed: %v", e.Service, e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var slugExistsPattern = regexp.MustCompile(`(?i)collection.*slug.*already exists`)

// IsSlugExists reports whether err is the destination's "collection with this
// slug already exists" conflict.
func IsSlugExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusBadRequest && slugExistsPattern.MatchString(apiErr.Detail)
}

// IsNotFound reports whether err is a 404 from any service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client performs JSON requests against one base URL.
type Client struct {
	Service    Service
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// MaxResponseSize caps response bodies; 64 MiB when zero.
	MaxResponseSize int64
}

// NewClientParams configures a Client. BasePath is appended to BaseURL unless
// BaseURL already ends with it.
type NewClientParams struct {
	Service    Service
	BaseURL    string
	BasePath   string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(params NewClientParams) *Client {
	httpClient := params.HTTPClient
	if httpClient == nil {
		timeout := params.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		Service:    params.Service,
		BaseURL:    JoinBase(params.BaseURL, params.BasePath),
		Token:      params.Token,
		HTTPClient: httpClient,
	}
}

// JoinBase appends basePath to rawURL, tolerating trailing slashes and URLs
// that already carry the base path.
func JoinBase(rawURL, basePath string) string {
	base := strings.TrimRight(rawURL, "/")
	basePath = "/" + strings.Trim(basePath, "/")
	if basePath == "/" || strings.HasSuffix(base, basePath) {
		return base
	}
	return base + basePath
}

// Do sends body (JSON-encoded when non-nil) and decodes a 2xx response into
// out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request body: %w", c.Service, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", c.Service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransportError{Service: c.Service, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	limit := c.MaxResponseSize
	if limit <= 0 {
		limit = maxResponseSize
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return &TransportError{Service: c.Service, Method: method, Path: path, Err: err}
	}
	if int64(len(respBody)) > limit {
		return fmt.Errorf("%s %s %s: %w of %d bytes", c.Service, method, path, ErrResponseTooLarge, limit)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Service: c.Service,
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Detail:  errorDetail(respBody),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse %s response from %s: %w", c.Service, path, err)
	}
	return nil
}

// errorDetail extracts the "detail" (or "message") field of a JSON error body
// and falls back to the raw text.
func errorDetail(body []byte) string {
	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Detail) > 0 {
			var detail string
			if err := json.Unmarshal(parsed.Detail, &detail); err == nil {
				return detail
			}
			return string(parsed.Detail)
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}
