// Package featureservice is a client for hosted feature layer REST
// endpoints: layer metadata, paginated attribute queries, and chunked
// applyEdits calls that report per-item success or failure.
package featureservice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Field type names as reported by the layer metadata endpoint.
const (
	TypeOID     = "esriFieldTypeOID"
	TypeString  = "esriFieldTypeString"
	TypeInteger = "esriFieldTypeInteger"
	TypeSmall   = "esriFieldTypeSmallInteger"
	TypeDouble  = "esriFieldTypeDouble"
	TypeSingle  = "esriFieldTypeSingle"
	TypeDate    = "esriFieldTypeDate"
)

// Field describes one attribute field of a feature layer.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// LayerInfo is the subset of layer metadata the importer needs.
type LayerInfo struct {
	ObjectIDField string  `json:"objectIdField"`
	GeometryType  string  `json:"geometryType"`
	Fields        []Field `json:"fields"`
}

// Client talks to a single feature layer endpoint
// (e.g. https://host/arcgis/rest/services/Incidents/FeatureServer/0).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	pageSize   int
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets a pre-acquired access token appended to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRateLimit sets the requests-per-second limit for layer calls.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithPageSize sets the query page size (resultRecordCount).
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a client for the given layer URL.
func NewClient(layerURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(layerURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pageSize:   1000,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Layer fetches the layer metadata.
func (c *Client) Layer(ctx context.Context) (*LayerInfo, error) {
	body, err := c.do(ctx, "", url.Values{})
	if err != nil {
		return nil, err
	}

	var info LayerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, eris.Wrap(err, "featureservice: parse layer metadata")
	}
	if info.ObjectIDField == "" {
		// Older servers only report it inside the fields list.
		for _, f := range info.Fields {
			if f.Type == TypeOID {
				info.ObjectIDField = f.Name
				break
			}
		}
	}
	return &info, nil
}

// serviceError is the error envelope layer endpoints return with HTTP 200.
type serviceError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do issues a POST to baseURL/path with f=json and the token applied, and
// unwraps the in-band error envelope.
func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "featureservice: rate limit")
		}
	}

	params.Set("f", "json")
	if c.token != "" {
		params.Set("token", c.token)
	}

	endpoint := c.baseURL
	if path != "" {
		endpoint += "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, eris.Wrapf(err, "featureservice: build request %s", path)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "featureservice: request %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("featureservice: %s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "featureservice: read response %s", path)
	}

	var svcErr serviceError
	if err := json.Unmarshal(body, &svcErr); err == nil && svcErr.Error != nil {
		return nil, eris.Errorf("featureservice: %s failed: %d %s", path, svcErr.Error.Code, svcErr.Error.Message)
	}

	return body, nil
}
