// Package feed pulls on-chain activity rows for watched wallets and turns
// them into raw copy signals.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/internal/workers"
	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// Source supplies new raw signals since the previous poll.
type Source interface {
	Poll(ctx context.Context) ([]types.RawSignal, error)
}

// Config configures the activity poller.
type Config struct {
	BaseURL        string        `json:"baseUrl"`
	Wallets        []string      `json:"wallets"`
	PageLimit      int           `json:"pageLimit"`
	RequestTimeout time.Duration `json:"requestTimeout"`

	// FetchConcurrency bounds parallel wallet fetches per poll.
	FetchConcurrency int `json:"fetchConcurrency"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "https://data-api.polymarket.com",
		PageLimit:        100,
		RequestTimeout:   10 * time.Second,
		FetchConcurrency: 4,
	}
}

// ActivityPoller fetches the data-api activity endpoint for each watched
// wallet, keeping a per-wallet high-water mark so rows are delivered once.
type ActivityPoller struct {
	logger *zap.Logger
	config Config
	client *http.Client
	pool   *workers.Pool

	mu        sync.Mutex
	highWater map[string]*walletMark
}

// walletMark is one wallet's delivery frontier: the newest timestamp seen
// plus the identities of rows observed at exactly that second, so a fill
// landing on the boundary in a later poll is still delivered once.
type walletMark struct {
	ts   int64
	seen map[string]bool
}

// NewActivityPoller creates a poller over the configured wallets.
func NewActivityPoller(logger *zap.Logger, config Config) *ActivityPoller {
	return &ActivityPoller{
		logger:    logger.Named("activity-feed"),
		config:    config,
		client:    &http.Client{Timeout: config.RequestTimeout},
		pool:      workers.NewPool(logger, "activity-fetch", config.FetchConcurrency),
		highWater: make(map[string]*walletMark),
	}
}

// activityRow mirrors one data-api activity record. The fill identifier is
// published under several aliases depending on endpoint version.
type activityRow struct {
	ProxyWallet     string      `json:"proxyWallet"`
	ConditionID     string      `json:"conditionId"`
	Asset           string      `json:"asset"`
	Side            string      `json:"side"`
	Type            string      `json:"type"`
	Size            float64     `json:"size"`
	USDCSize        float64     `json:"usdcSize"`
	Price           float64     `json:"price"`
	Timestamp       int64       `json:"timestamp"`
	TransactionHash string      `json:"transactionHash"`
	FillID          string      `json:"fillId"`
	ID              json.Number `json:"id"`
	EventID         string      `json:"eventId"`
	Title           string      `json:"title"`
	Outcome         string      `json:"outcome"`
}

// fillID resolves the first populated identifier alias.
func (r activityRow) fillID() string {
	if r.FillID != "" {
		return r.FillID
	}
	if s := r.ID.String(); s != "" {
		return s
	}
	return r.EventID
}

// identity keys a row for boundary dedupe. Falls back to the row's trade
// fields when no identifier alias is populated.
func (r activityRow) identity() string {
	if id := r.fillID(); id != "" {
		return id
	}
	return fmt.Sprintf("%s|%s|%s|%g|%g", r.TransactionHash, r.Asset, r.Side, r.Size, r.Price)
}

func (r activityRow) toSignal() types.RawSignal {
	kind := types.SignalKind(r.Type)
	if kind == "" {
		kind = types.SignalKindTrade
	}
	return types.RawSignal{
		ProxyWallet:     r.ProxyWallet,
		ConditionID:     r.ConditionID,
		Asset:           r.Asset,
		Side:            types.Side(r.Side),
		Kind:            kind,
		Size:            r.Size,
		NotionalUSD:     r.USDCSize,
		Price:           r.Price,
		Timestamp:       r.Timestamp,
		TransactionHash: r.TransactionHash,
		FillID:          r.fillID(),
		Title:           r.Title,
		Outcome:         r.Outcome,
	}
}

// Poll fetches fresh activity for every watched wallet, fanning the
// requests out over the fetch pool. A wallet whose request fails is skipped
// this round and retried on the next poll; the error is returned only when
// every wallet fails.
func (p *ActivityPoller) Poll(ctx context.Context) ([]types.RawSignal, error) {
	wallets := p.config.Wallets
	results := make([][]activityRow, len(wallets))
	tasks := make([]workers.Task, len(wallets))
	for i, wallet := range wallets {
		tasks[i] = func(ctx context.Context) error {
			rows, err := p.fetchWallet(ctx, wallet)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		}
	}
	errs := p.pool.Run(ctx, tasks)

	var out []types.RawSignal
	var lastErr error
	failures := 0
	for i, wallet := range wallets {
		if errs[i] != nil {
			failures++
			lastErr = errs[i]
			p.logger.Warn("Activity fetch failed",
				zap.String("wallet", wallet),
				zap.Error(errs[i]))
			continue
		}
		out = append(out, p.advance(wallet, results[i])...)
	}

	if failures > 0 && failures == len(wallets) {
		return nil, fmt.Errorf("all activity fetches failed: %w", lastErr)
	}
	return out, nil
}

func (p *ActivityPoller) fetchWallet(ctx context.Context, wallet string) ([]activityRow, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("limit", strconv.Itoa(p.config.PageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.config.BaseURL+"/activity?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("activity request returned %d", resp.StatusCode)
	}

	var rows []activityRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding activity response: %w", err)
	}
	return rows, nil
}

// advance filters rows past the wallet's delivery frontier and moves it.
// Rows older than the frontier are dropped; rows at exactly the frontier
// second are dropped only when their identity was already delivered.
func (p *ActivityPoller) advance(wallet string, rows []activityRow) []types.RawSignal {
	p.mu.Lock()
	defer p.mu.Unlock()

	mark := p.highWater[wallet]
	if mark == nil {
		mark = &walletMark{seen: make(map[string]bool)}
		p.highWater[wallet] = mark
	}

	maxTS := mark.ts
	var fresh []activityRow
	for _, row := range rows {
		switch {
		case row.Timestamp < mark.ts:
			continue
		case row.Timestamp == mark.ts && mark.seen[row.identity()]:
			continue
		}
		fresh = append(fresh, row)
		if row.Timestamp > maxTS {
			maxTS = row.Timestamp
		}
	}

	if maxTS > mark.ts {
		mark.ts = maxTS
		mark.seen = make(map[string]bool)
	}
	out := make([]types.RawSignal, 0, len(fresh))
	for _, row := range fresh {
		if row.Timestamp == mark.ts {
			mark.seen[row.identity()] = true
		}
		out = append(out, row.toSignal())
	}

	if len(out) > 0 {
		p.logger.Debug("New activity observed",
			zap.String("wallet", wallet),
			zap.Int("rows", len(out)),
			zap.Int64("highWaterMark", mark.ts))
	}
	return out
}
