package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Locator is an HTTP client for an ArcGIS-compatible locator service's
// findAddressCandidates operation.
type Locator struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	limiter     *rate.Limiter
	concurrency int
}

// Option configures the locator.
type Option func(*Locator)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(l *Locator) { l.httpClient = hc }
}

// WithToken sets an access token appended to every request.
func WithToken(token string) Option {
	return func(l *Locator) { l.token = token }
}

// WithRateLimit sets the requests-per-second limit for locator calls.
func WithRateLimit(rps float64) Option {
	return func(l *Locator) { l.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithBatchConcurrency sets the max parallel calls for BatchGeocode.
func WithBatchConcurrency(n int) Option {
	return func(l *Locator) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// NewLocator creates a Locator for the given locator service URL.
func NewLocator(locatorURL string, opts ...Option) *Locator {
	l := &Locator{
		baseURL:     strings.TrimRight(locatorURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		concurrency: 10,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// candidate mirrors one entry of a findAddressCandidates response.
type candidate struct {
	Address  string `json:"address"`
	Location struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"location"`
	Score      float64 `json:"score"`
	Attributes struct {
		Status   string `json:"Status"`
		AddrType string `json:"Addr_type"`
	} `json:"attributes"`
}

type candidatesResponse struct {
	Candidates []candidate `json:"candidates"`
	Error      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Geocode locates one address, returning the best candidate. A locator that
// finds no candidates yields an unmatched result, not an error.
func (l *Locator) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	params := url.Values{}
	params.Set("f", "json")
	params.Set("outFields", "Status,Addr_type")
	if l.token != "" {
		params.Set("token", l.token)
	}

	if addr.SingleLine != "" {
		params.Set("SingleLine", addr.SingleLine)
	} else {
		params.Set("Address", addr.Street)
		if addr.City != "" {
			params.Set("City", addr.City)
		}
		if addr.State != "" {
			params.Set("Region", addr.State)
		}
		if addr.ZipCode != "" {
			params.Set("Postal", addr.ZipCode)
		}
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "geocode: rate limit")
		}
	}

	endpoint := l.baseURL + "/findAddressCandidates"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request candidates")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: locator returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read response")
	}

	var parsed candidatesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "geocode: parse candidates")
	}
	if parsed.Error != nil {
		return nil, eris.Errorf("geocode: locator failed: %d %s", parsed.Error.Code, parsed.Error.Message)
	}

	if len(parsed.Candidates) == 0 {
		return &Result{Status: StatusUnmatched}, nil
	}

	best := parsed.Candidates[0]
	for _, c := range parsed.Candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}

	status := best.Attributes.Status
	if status == "" {
		// Locators without a Status output field report plain matches.
		status = StatusMatched
	}

	return &Result{
		X:              best.Location.X,
		Y:              best.Location.Y,
		Status:         status,
		AddrType:       best.Attributes.AddrType,
		Score:          best.Score,
		Matched:        status != StatusUnmatched,
		MatchedAddress: best.Address,
	}, nil
}

// BatchGeocode locates addresses in parallel, bounded by the configured
// concurrency.
func (l *Locator) BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	for i := range addrs {
		if addrs[i].ID == "" {
			addrs[i].ID = fmt.Sprintf("%d", i)
		}
	}

	results := make([]Result, len(addrs))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(l.concurrency)

	for i, addr := range addrs {
		eg.Go(func() error {
			r, err := l.Geocode(gCtx, addr)
			if err != nil {
				zap.L().Debug("geocode: batch item failed",
					zap.String("id", addr.ID),
					zap.Error(err),
				)
				results[i] = Result{Status: StatusUnmatched}
				return nil //nolint:nilerr // individual failures don't fail the batch
			}
			results[i] = *r
			return nil
		})
	}

	_ = eg.Wait()
	return results, nil
}
