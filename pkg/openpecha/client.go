// Package openpecha is a read-only client for the OpenPecha catalog API.
package openpecha

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/OpenPecha/webuddhist/backend/pkg/httpapi"
)

const (
	BasePath    = "/v2"
	Application = "webuddhist"
)

type Client struct {
	api *httpapi.Client
}

type NewClientParams struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(params NewClientParams) *Client {
	return &Client{
		api: httpapi.NewClient(httpapi.NewClientParams{
			Service:    httpapi.ServiceOpenPecha,
			BaseURL:    params.BaseURL,
			BasePath:   BasePath,
			Timeout:    params.Timeout,
			HTTPClient: params.HTTPClient,
		}),
	}
}

// GetCategories lists the categories under parentID, or the roots when
// parentID is empty.
func (c *Client) GetCategories(ctx context.Context, language, parentID string) ([]Category, error) {
	query := url.Values{
		"application": {Application},
		"language":    {language},
	}
	if parentID != "" {
		query.Set("parent_id", parentID)
	}

	var categories []Category
	if err := c.api.Do(ctx, http.MethodGet, "/categories", query, nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (c *Client) GetText(ctx context.Context, textID string) (*Text, error) {
	var text Text
	if err := c.api.Do(ctx, http.MethodGet, "/texts/"+url.PathEscape(textID), nil, nil, &text); err != nil {
		return nil, err
	}
	if text.ID == "" {
		text.ID = textID
	}
	return &text, nil
}

func (c *Client) GetRelatedByWork(ctx context.Context, textID string) (RelatedWorks, error) {
	related := RelatedWorks{}
	if err := c.api.Do(ctx, http.MethodGet, "/texts/"+url.PathEscape(textID)+"/related-by-work", nil, nil, &related); err != nil {
		return nil, err
	}
	return related, nil
}

func (c *Client) GetCriticalInstances(ctx context.Context, textID string) ([]Instance, error) {
	query := url.Values{"instance_type": {"critical"}}

	var instances []Instance
	if err := c.api.Do(ctx, http.MethodGet, "/texts/"+url.PathEscape(textID)+"/instances", query, nil, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// GetInstance fetches an instance with its annotations and base content.
func (c *Client) GetInstance(ctx context.Context, pechaTextID string) (*InstanceDocument, error) {
	query := url.Values{
		"annotation": {"true"},
		"content":    {"true"},
	}

	var doc InstanceDocument
	if err := c.api.Do(ctx, http.MethodGet, "/instances/"+url.PathEscape(pechaTextID), query, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) GetAnnotation(ctx context.Context, annotationID string) ([]AnnotationSegment, error) {
	var resp annotationResponse
	if err := c.api.Do(ctx, http.MethodGet, "/annotations/"+url.PathEscape(annotationID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
