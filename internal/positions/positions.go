// Package positions resolves current market exposure for wallets via the
// data-api positions endpoint.
package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Config configures the positions client.
type Config struct {
	BaseURL        string        `json:"baseUrl"`
	RequestTimeout time.Duration `json:"requestTimeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://data-api.polymarket.com",
		RequestTimeout: 10 * time.Second,
	}
}

// Client fetches live positions. It satisfies the leader coordinator's
// position lookup.
type Client struct {
	logger *zap.Logger
	config Config
	client *http.Client
}

// NewClient creates a positions client.
func NewClient(logger *zap.Logger, config Config) *Client {
	return &Client{
		logger: logger.Named("positions"),
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
	}
}

type positionRow struct {
	ConditionID  string  `json:"conditionId"`
	Asset        string  `json:"asset"`
	Size         float64 `json:"size"`
	CurrentValue float64 `json:"currentValue"`
}

// Exposure returns the wallet's current USD value per condition. Conditions
// with no open position are absent from the map.
func (c *Client) Exposure(ctx context.Context, wallet string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("user", wallet)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/positions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching positions for %s: %w", wallet, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("positions request for %s returned %d", wallet, resp.StatusCode)
	}

	var rows []positionRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding positions response: %w", err)
	}

	exposure := make(map[string]float64, len(rows))
	for _, row := range rows {
		if row.CurrentValue == 0 && row.Size == 0 {
			continue
		}
		exposure[row.ConditionID] += row.CurrentValue
	}
	return exposure, nil
}
