// Package mapping enqueues segment-mapping jobs on the mapping queue service.
package mapping

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OpenPecha/webuddhist/backend/pkg/httpapi"
)

const DefaultTimeout = 10 * time.Second

// Job asks the mapping service to compute parent/child segment mappings for
// the given pecha text ids.
type Job struct {
	TextIDs     []string `json:"text_ids"`
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
}

type Client struct {
	api *httpapi.Client
}

type NewClientParams struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(params NewClientParams) *Client {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		api: httpapi.NewClient(httpapi.NewClientParams{
			Service:    httpapi.ServiceMapping,
			BaseURL:    params.BaseURL,
			Timeout:    timeout,
			HTTPClient: params.HTTPClient,
		}),
	}
}

func (c *Client) EnqueueTextIDs(ctx context.Context, job Job) error {
	return c.api.Do(ctx, http.MethodPost, "/job/text-ids", nil, job, nil)
}

// IsLocalDestination reports whether rawURL points at a loopback or
// unspecified address, i.e. a developer machine.
func IsLocalDestination(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}
