package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LougLynx/RIG-SYSTEM/internal/model"

	"github.com/rs/zerolog/log"
)

// ShipmentAdvice is one record of the supplier advice feed: what is expected to arrive.
type ShipmentAdvice struct {
	SupplierCode  string   `json:"supplierCode"`
	SupplierName  string   `json:"supplierName"`
	AsnNumber     string   `json:"asnNumber"`
	DoNumber      string   `json:"doNumber"`
	Invoice       string   `json:"invoice"`
	EtaDate       FeedTime `json:"etaDate"`
	ReceiveStatus bool     `json:"receiveStatus"`
	IsCompleted   bool     `json:"isCompleted"`
}

// Triple returns the advice's raw identity keys.
func (a ShipmentAdvice) Triple() model.IdentityTriple {
	return model.NewIdentityTriple(a.AsnNumber, a.DoNumber, a.Invoice)
}

// Identity returns the authoritative key of the advice.
func (a ShipmentAdvice) Identity() model.Identity { return a.Triple().Identity() }

// ShipmentDetailLine is one part number line of an advice.
type ShipmentDetailLine struct {
	PartNo          string `json:"partNo"`
	AsnNumber       string `json:"asnNumber"`
	DoNumber        string `json:"doNumber"`
	Invoice         string `json:"invoice"`
	Quantity        int    `json:"quantiy"` // sic: the feed misspells the key
	QuantityRemain  int    `json:"quantityRemain"`
	QuantityScan    int    `json:"quantityScan"`
	StockInStatus   bool   `json:"stockInStatus"`
	StockInLocation string `json:"stockInLocation"`
}

// FeedTime accepts the feed's zone-less timestamps as well as RFC 3339.
type FeedTime struct{ time.Time }

var feedTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *FeedTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range feedTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("feed: unrecognised time %q", s)
}

func (t FeedTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// FeedError is returned when the feed answers with a non-2xx status.
type FeedError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Temporary reports whether a retry may succeed (server-side or throttling errors).
func (e *FeedError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// FeedConfig holds connection settings for the shipment advice API.
type FeedConfig struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	Breaker      CircuitBreakerConfig
}

// FeedClient is an HTTP client for the supplier advice API.
// Transient failures are retried here and guarded by a circuit breaker, so callers
// only ever see the final outcome of a query.
type FeedClient struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	maxAttempts  int
	backoff      time.Duration
	httpClient   *http.Client
	cb           *CircuitBreaker
}

func NewFeedClient(cfg FeedConfig) *FeedClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	return &FeedClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		maxAttempts:  cfg.MaxAttempts,
		backoff:      cfg.RetryBackoff,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		cb:           NewCircuitBreaker(cfg.Breaker),
	}
}

// CircuitState exposes the breaker state for the health endpoint.
func (c *FeedClient) CircuitState() CBState { return c.cb.State() }

// FetchAdvice returns every advice whose ETA falls on the given date.
func (c *FeedClient) FetchAdvice(ctx context.Context, date time.Time) ([]ShipmentAdvice, error) {
	params := url.Values{}
	params.Set("date", date.Format("2006-01-02"))

	var out []ShipmentAdvice
	if err := c.getResult(ctx, "/asn-information", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchDetail returns the part lines of the advice identified by the triple.
func (c *FeedClient) FetchDetail(ctx context.Context, id model.IdentityTriple) ([]ShipmentDetailLine, error) {
	params := url.Values{}
	params.Set("asnNumber", id.AsnNumber)
	params.Set("doNumber", id.DoNumber)
	params.Set("invoice", id.Invoice)

	var out []ShipmentDetailLine
	if err := c.getResult(ctx, "/asn-detail", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// feedEnvelope is the {"data":{"result":[...]}} wrapper around every list response.
type feedEnvelope struct {
	Data struct {
		Result json.RawMessage `json:"result"`
	} `json:"data"`
}

func (c *FeedClient) getResult(ctx context.Context, path string, params url.Values, dest any) error {
	endpoint := c.baseURL + path + "?" + params.Encode()

	var body []byte
	err := Retry(ctx, c.maxAttempts, c.backoff, func(attempt int) error {
		return c.cb.Execute(func() error {
			b, err := c.get(ctx, endpoint)
			if err != nil {
				if attempt+1 < c.maxAttempts {
					log.Warn().Err(err).Int("attempt", attempt+1).Str("path", path).Msg("feed: request failed, retrying")
				}
				return err
			}
			body = b
			return nil
		})
	})
	if err != nil {
		return err
	}

	var env feedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("feed: decode %s: %w", path, err)
	}
	if len(env.Data.Result) == 0 || string(env.Data.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data.Result, dest); err != nil {
		return fmt.Errorf("feed: decode %s result: %w", path, err)
	}
	return nil
}

func (c *FeedClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Permanent(fmt.Errorf("feed: create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ferr := &FeedError{Endpoint: req.URL.Path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if !ferr.Temporary() {
			return nil, Permanent(ferr)
		}
		return nil, ferr
	}
	return body, nil
}
