// Package acs provides a client for the Census Bureau American Community
// Survey API, used as the per-tract denominator source.
package acs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/meridian-analytics/georate/internal/resilience"
)

const defaultBaseURL = "https://api.census.gov"

// Client fetches per-tract ACS estimates.
type Client interface {
	// TractEstimates returns a mapping from 11-digit tract GEOID to the
	// estimate for one ACS variable.
	TractEstimates(ctx context.Context, q Query) (map[string]float64, error)
}

// Query identifies one denominator fetch.
type Query struct {
	// Year is the ACS release year, e.g. 2022.
	Year int
	// Dataset is the ACS dataset path, e.g. "acs/acs5".
	Dataset string
	// Variable is the estimate to fetch, e.g. "B01003_001E" (total population).
	Variable string
	// StateFIPS is the 2-digit state code.
	StateFIPS string
	// CountyFIPS optionally restricts to these counties; empty means all.
	CountyFIPS []string
}

// Option configures the client.
type Option func(*client)

// WithBaseURL overrides the API base URL (tests point this at a local server).
func WithBaseURL(base string) Option {
	return func(c *client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithAPIKey sets the Census API key. Optional for low request volumes.
func WithAPIKey(key string) Option {
	return func(c *client) { c.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithRateLimit sets the requests-per-second limit against api.census.gov.
func WithRateLimit(rps float64) Option {
	return func(c *client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates an ACS client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(5, 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TractEstimates implements Client. Network failures get a single retry on
// transient errors, then fail hard with a NetworkError: a silently empty
// denominator mapping would corrupt every downstream rate.
func (c *client) TractEstimates(ctx context.Context, q Query) (map[string]float64, error) {
	if q.Variable == "" {
		return nil, eris.New("acs: variable is required")
	}
	if q.StateFIPS == "" {
		return nil, eris.New("acs: state FIPS is required")
	}

	reqURL := c.buildURL(q)

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, reqURL)
	})
	if err != nil {
		return nil, resilience.NewNetworkError("acs", q.Variable, err)
	}

	return parseResponse(body, q.Variable)
}

func (c *client) buildURL(q Query) string {
	in := "state:" + q.StateFIPS
	if len(q.CountyFIPS) > 0 {
		in += " county:" + strings.Join(q.CountyFIPS, ",")
	}

	params := url.Values{
		"get": {q.Variable},
		"for": {"tract:*"},
		"in":  {in},
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	return fmt.Sprintf("%s/data/%d/%s?%s", c.baseURL, q.Year, q.Dataset, params.Encode())
}

func (c *client) get(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "acs: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "acs: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("acs: api returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	return io.ReadAll(resp.Body)
}

// parseResponse decodes the ACS array-of-arrays payload. The first row is
// the header; geography columns (state, county, tract) concatenate into
// the GEOID. Negative annotation sentinels (-666666666 and kin) mean the
// estimate is suppressed or unavailable, so the key is omitted rather
// than reported as a denominator.
func parseResponse(body []byte, variable string) (map[string]float64, error) {
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, eris.Wrap(err, "acs: parse response")
	}
	if len(rows) == 0 {
		return nil, eris.New("acs: empty response")
	}

	header := rows[0]
	varIdx, stateIdx, countyIdx, tractIdx := -1, -1, -1, -1
	for i, name := range header {
		switch name {
		case variable:
			varIdx = i
		case "state":
			stateIdx = i
		case "county":
			countyIdx = i
		case "tract":
			tractIdx = i
		}
	}
	if varIdx < 0 || stateIdx < 0 || countyIdx < 0 || tractIdx < 0 {
		return nil, eris.Errorf("acs: response header missing columns: %v", header)
	}

	out := make(map[string]float64, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) <= varIdx || len(row) <= tractIdx {
			continue
		}
		geoid := row[stateIdx] + row[countyIdx] + row[tractIdx]

		raw := strings.TrimSpace(row[varIdx])
		if raw == "" || raw == "null" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, eris.Errorf("acs: non-numeric estimate %q for %s", raw, geoid)
		}
		if v <= -111111111 {
			// ACS annotation sentinel.
			continue
		}
		out[geoid] = v
	}

	return out, nil
}
