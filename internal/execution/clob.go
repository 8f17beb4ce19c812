package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// CLOBConfig configures the live order gateway.
type CLOBConfig struct {
	BaseURL        string        `json:"baseUrl"`
	APIKey         string        `json:"apiKey"`
	APISecret      string        `json:"-"`
	Passphrase     string        `json:"-"`
	FunderAddress  string        `json:"funderAddress"`
	RequestTimeout time.Duration `json:"requestTimeout"`
}

// DefaultCLOBConfig returns defaults for the public endpoint.
func DefaultCLOBConfig() CLOBConfig {
	return CLOBConfig{
		BaseURL:        "https://clob.polymarket.com",
		RequestTimeout: 15 * time.Second,
	}
}

// CLOBGateway submits live orders over HTTP.
type CLOBGateway struct {
	logger *zap.Logger
	config CLOBConfig
	client *http.Client
}

// NewCLOBGateway creates a live gateway.
func NewCLOBGateway(logger *zap.Logger, config CLOBConfig) *CLOBGateway {
	return &CLOBGateway{
		logger: logger.Named("clob-gateway"),
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
	}
}

type orderPayload struct {
	ClientID  string `json:"clientId"`
	TokenID   string `json:"tokenId"`
	Side      string `json:"side"`
	AmountUSD string `json:"amount"`
	Price     string `json:"price,omitempty"`
	OrderType string `json:"orderType"`
	Funder    string `json:"funder,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Error   string `json:"errorMsg"`
}

// SubmitOrder posts a marketable limit order. Prices and amounts are
// rounded to venue resolution before leaving the process.
func (g *CLOBGateway) SubmitOrder(ctx context.Context, instruction types.OrderInstruction) (*Receipt, error) {
	amount := roundAmount(instruction.AmountUSD)
	payload := orderPayload{
		ClientID:  uuid.NewString(),
		TokenID:   instruction.Asset,
		Side:      string(instruction.Side),
		AmountUSD: amount.String(),
		OrderType: "FOK",
		Funder:    g.config.FunderAddress,
	}
	if instruction.MaxPrice != nil {
		payload.Price = roundPrice(*instruction.MaxPrice).String()
		payload.OrderType = "GTC"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY-API-KEY", g.config.APIKey)
	req.Header.Set("POLY-PASSPHRASE", g.config.Passphrase)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submitting order: %w", err)
	}
	defer resp.Body.Close()

	var parsed orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding order response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		return nil, fmt.Errorf("order rejected (%d): %s", resp.StatusCode, parsed.Error)
	}

	receipt := &Receipt{
		OrderID:     parsed.OrderID,
		Side:        instruction.Side,
		AmountUSD:   amount,
		Reason:      instruction.Reason,
		SubmittedAt: time.Now().UTC(),
	}
	if instruction.MaxPrice != nil {
		receipt.LimitPrice = roundPrice(*instruction.MaxPrice)
	}

	g.logger.Info("Order submitted",
		zap.String("orderId", receipt.OrderID),
		zap.String("side", string(receipt.Side)),
		zap.String("amountUsd", amount.String()))

	return receipt, nil
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// AvailableBalance fetches spendable collateral from the venue.
func (g *CLOBGateway) AvailableBalance(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.config.BaseURL+"/balance-allowance?asset_type=COLLATERAL", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("POLY-API-KEY", g.config.APIKey)
	req.Header.Set("POLY-PASSPHRASE", g.config.Passphrase)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching balance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance request returned %d", resp.StatusCode)
	}

	var parsed balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decoding balance response: %w", err)
	}

	var balance float64
	if _, err := fmt.Sscanf(parsed.Balance, "%f", &balance); err != nil {
		return 0, fmt.Errorf("parsing balance %q: %w", parsed.Balance, err)
	}
	return balance, nil
}
