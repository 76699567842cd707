// Package openfigi maps ISINs to exchange tickers with Bloomberg's OpenFIGI API.
package openfigi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/etnz/folio"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.openfigi.com/v3"

// MappingRequest represents a request to the OpenFIGI mapping API.
type MappingRequest struct {
	IDType   string `json:"idType"`
	IDValue  string `json:"idValue"`
	ExchCode string `json:"exchCode,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// MappingResult represents a single result from the OpenFIGI API.
type MappingResult struct {
	FIGI         string `json:"figi"`
	Ticker       string `json:"ticker"`
	ExchCode     string `json:"exchCode"` // e.g. "US", "LN", "GY"
	Name         string `json:"name"`
	MarketSector string `json:"marketSector"`
	SecurityType string `json:"securityType"`
}

// MappingResponse represents a response item from the OpenFIGI API.
type MappingResponse struct {
	Data    []MappingResult `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Warning string          `json:"warning,omitempty"`
}

// Client is the OpenFIGI API client. Answers are kept for an hour.
type Client struct {
	baseURL    string
	apiKey     string // optional, raises the rate limit
	httpClient *http.Client
	log        zerolog.Logger
	cache      *expirable.LRU[string, []MappingResult]
}

// NewClient creates a new OpenFIGI client. apiKey may be empty.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("component", "openfigi").Logger(),
		cache:      expirable.NewLRU[string, []MappingResult](100, nil, time.Hour),
	}
}

// LookupISIN maps an ISIN to its listings, one per exchange.
func (c *Client) LookupISIN(ctx context.Context, isin string) ([]MappingResult, error) {
	if results, ok := c.cache.Get(isin); ok {
		c.log.Debug().Str("isin", isin).Msg("cache hit")
		return results, nil
	}
	responses, err := c.doRequest(ctx, []MappingRequest{{IDType: "ID_ISIN", IDValue: isin}})
	if err != nil {
		return nil, err
	}
	if len(responses) == 0 || responses[0].Error != "" {
		msg := "no answer"
		if len(responses) > 0 {
			msg = responses[0].Error
		}
		return nil, fmt.Errorf("%w: openfigi %s: %s", folio.ErrLookupUnavailable, isin, msg)
	}
	results := responses[0].Data
	c.cache.Add(isin, results)
	return results, nil
}

// LookupISINForExchange returns the listing of isin on one exchange.
func (c *Client) LookupISINForExchange(ctx context.Context, isin, exchCode string) (MappingResult, error) {
	results, err := c.LookupISIN(ctx, isin)
	if err != nil {
		return MappingResult{}, err
	}
	for _, r := range results {
		if r.ExchCode == exchCode {
			return r, nil
		}
	}
	return MappingResult{}, fmt.Errorf("%w: %s has no listing on %s", folio.ErrLookupUnavailable, isin, exchCode)
}

func (c *Client) doRequest(ctx context.Context, requests []MappingRequest) ([]MappingResponse, error) {
	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mapping", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-OPENFIGI-APIKEY", c.apiKey)
	}
	c.log.Debug().Int("count", len(requests)).Msg("mapping request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
			return nil, fmt.Errorf("%w: openfigi: %w", folio.ErrExternalTimeout, err)
		}
		return nil, fmt.Errorf("%w: openfigi: %w", folio.ErrLookupUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: openfigi status %d", folio.ErrExternalTimeout, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: openfigi status %d: %s", folio.ErrLookupUnavailable, resp.StatusCode, b)
	}
	var responses []MappingResponse
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		return nil, fmt.Errorf("%w: openfigi: failed to decode response: %w", folio.ErrLookupUnavailable, err)
	}
	return responses, nil
}
