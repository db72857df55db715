package coindcx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client wraps REST access to the CoinDCX public API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a REST client for the given base URL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.coindcx.com"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// MarketsDetails fetches the full list of tradable markets.
func (c *Client) MarketsDetails(ctx context.Context) ([]MarketDetail, error) {
	u := fmt.Sprintf("%s/exchange/v1/markets_details", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coindcx markets_details status %d", res.StatusCode)
	}

	var markets []MarketDetail
	if err := json.NewDecoder(res.Body).Decode(&markets); err != nil {
		return nil, err
	}
	return markets, nil
}
