// Package webuddhist is the write client for the destination backend.
package webuddhist

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/OpenPecha/webuddhist/backend/pkg/httpapi"
)

const BasePath = "/api/v1"

// Client authenticates every call with the caller's bearer token.
type Client struct {
	api *httpapi.Client
}

type NewClientParams struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(params NewClientParams) *Client {
	return &Client{
		api: httpapi.NewClient(httpapi.NewClientParams{
			Service:    httpapi.ServiceWeBuddhist,
			BaseURL:    params.BaseURL,
			BasePath:   BasePath,
			Token:      params.Token,
			Timeout:    params.Timeout,
			HTTPClient: params.HTTPClient,
		}),
	}
}

// CreateCollection posts a collection under language. A slug conflict comes
// back as an *httpapi.APIError matched by httpapi.IsSlugExists.
func (c *Client) CreateCollection(ctx context.Context, language string, payload CollectionPayload) (*Collection, error) {
	query := url.Values{"language": {language}}

	var created Collection
	if err := c.api.Do(ctx, http.MethodPost, "/collections", query, payload, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetCollectionByPechaID resolves a collection by its upstream id. A missing
// collection is reported through httpapi.IsNotFound.
func (c *Client) GetCollectionByPechaID(ctx context.Context, pechaCollectionID string) (*Collection, error) {
	var collection Collection
	if err := c.api.Do(ctx, http.MethodGet, "/collections/"+url.PathEscape(pechaCollectionID), nil, nil, &collection); err != nil {
		return nil, err
	}
	return &collection, nil
}

// FindCollection looks a collection up by slug. It returns nil when none
// matches.
func (c *Client) FindCollection(ctx context.Context, language, slug string) (*Collection, error) {
	query := url.Values{
		"language": {language},
		"slug":     {slug},
	}

	var list collectionList
	if err := c.api.Do(ctx, http.MethodGet, "/collections", query, nil, &list); err != nil {
		return nil, err
	}
	for i := range list.Collections {
		if list.Collections[i].Slug == slug {
			return &list.Collections[i], nil
		}
	}
	return nil, nil
}

func (c *Client) CreateGroup(ctx context.Context, groupType string) (*Group, error) {
	var group Group
	if err := c.api.Do(ctx, http.MethodPost, "/groups", nil, groupPayload{Type: groupType}, &group); err != nil {
		return nil, err
	}
	if group.ID == "" {
		return nil, fmt.Errorf("destination created a %s group without an id", groupType)
	}
	return &group, nil
}

func (c *Client) CreateText(ctx context.Context, payload TextPayload) (*Text, error) {
	var text Text
	if err := c.api.Do(ctx, http.MethodPost, "/texts", nil, payload, &text); err != nil {
		return nil, err
	}
	if text.ID == "" {
		return nil, fmt.Errorf("destination created text %s without an id", payload.PechaTextID)
	}
	return &text, nil
}

// ListUploadedTexts returns the destination texts already carrying one of
// pechaTextIDs, keyed by pecha_text_id.
func (c *Client) ListUploadedTexts(ctx context.Context, pechaTextIDs []string) (map[string]Text, error) {
	uploaded := map[string]Text{}
	if len(pechaTextIDs) == 0 {
		return uploaded, nil
	}
	if err := c.api.Do(ctx, http.MethodPost, "/text-uploader/list", nil, uploadedTextsRequest{PechaTextIDs: pechaTextIDs}, &uploaded); err != nil {
		return nil, err
	}
	return uploaded, nil
}

// CountSegments reports how many segments the destination holds for textID.
// Only the first page is requested.
func (c *Client) CountSegments(ctx context.Context, textID string) (int, error) {
	query := url.Values{
		"text_id": {textID},
		"limit":   {strconv.Itoa(1)},
	}

	var page segmentPage
	if err := c.api.Do(ctx, http.MethodGet, "/segments", query, nil, &page); err != nil {
		return 0, err
	}
	if page.Total < len(page.Segments) {
		return len(page.Segments), nil
	}
	return page.Total, nil
}

func (c *Client) CreateSegments(ctx context.Context, batch SegmentBatch) error {
	return c.api.Do(ctx, http.MethodPost, "/segments", nil, batch, nil)
}

func (c *Client) CreateTableOfContent(ctx context.Context, toc TableOfContent) error {
	return c.api.Do(ctx, http.MethodPost, "/texts/table-of-content", nil, toc, nil)
}
