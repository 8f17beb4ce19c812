// Package types provides shared type definitions for the copy-trading bot.
package types

import (
	"time"
)

// Side represents the direction of a fill or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SignalKind categorizes raw activity rows from the feed.
type SignalKind string

const (
	SignalKindTrade  SignalKind = "TRADE"
	SignalKindRedeem SignalKind = "REDEEM"
	SignalKindMerge  SignalKind = "MERGE"
)

// RawSignal is one observed fill from a watched wallet. Immutable once
// decoded from the activity feed.
type RawSignal struct {
	ProxyWallet     string     `json:"proxyWallet"`
	ConditionID     string     `json:"conditionId"`
	Asset           string     `json:"asset"`
	Side            Side       `json:"side"`
	Kind            SignalKind `json:"type"`
	Size            float64    `json:"size"`
	NotionalUSD     float64    `json:"usdcSize"`
	Price           float64    `json:"price"`
	Timestamp       int64      `json:"timestamp"` // unix seconds
	TransactionHash string     `json:"transactionHash"`
	FillID          string     `json:"fillId,omitempty"`
	Title           string     `json:"title,omitempty"`
	Outcome         string     `json:"outcome,omitempty"`
}

// Time returns the fill timestamp as a time.Time.
func (r RawSignal) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// AggregatedSignal is one logical trade built from one or more raw fills
// sharing (transaction hash, condition, asset, side, kind). Never mutated
// after construction.
type AggregatedSignal struct {
	Wallet           string     `json:"wallet"`
	ConditionID      string     `json:"conditionId"`
	Asset            string     `json:"asset"`
	Side             Side       `json:"side"`
	Kind             SignalKind `json:"kind"`
	TransactionHash  string     `json:"transactionHash"`
	TotalSize        float64    `json:"totalSize"`
	TotalNotionalUSD float64    `json:"totalNotionalUsd"`
	WeightedPrice    float64    `json:"weightedPrice"`
	MinPrice         float64    `json:"minPrice"`
	MaxPrice         float64    `json:"maxPrice"`
	FillCount        int        `json:"fillCount"`
	FirstFillAt      int64      `json:"firstFillAt"`
	LastFillAt       int64      `json:"lastFillAt"`
	Title            string     `json:"title,omitempty"`
	Outcome          string     `json:"outcome,omitempty"`
}

// Timestamp returns the representative time of the trade (last fill).
func (a AggregatedSignal) Timestamp() int64 {
	return a.LastFillAt
}

// LeaderRecord tracks the single authoritative wallet for a condition.
// At most one active record may exist per condition id at any time; the
// leader store enforces this, not application locking.
type LeaderRecord struct {
	ConditionID        string    `json:"conditionId"`
	Wallet             string    `json:"wallet"`
	Side               Side      `json:"side"` // always BUY
	InitialSize        float64   `json:"initialSize"`
	InitialNotionalUSD float64   `json:"initialNotionalUsd"`
	TransactionHash    string    `json:"transactionHash"`
	EstablishedAt      time.Time `json:"establishedAt"`
	LastTradeAt        time.Time `json:"lastTradeAt"`
	Active             bool      `json:"active"`
	Title              string    `json:"title,omitempty"`
	Outcome            string    `json:"outcome,omitempty"`
}

// SuppressReason explains why an observed signal was not copied. Values are
// stable so operators can audit routing decisions.
type SuppressReason string

const (
	ReasonNotLeader          SuppressReason = "not_leader"
	ReasonNoLeaderCandidate  SuppressReason = "no_leader_candidate"
	ReasonLeaderChanged      SuppressReason = "leader_changed_during_buffering"
	ReasonBufferBelowMinimum SuppressReason = "buffer_below_minimum"
	ReasonPriceRejected      SuppressReason = "price_rejected"
	ReasonNotAffordable      SuppressReason = "not_affordable"
)

// OrderInstruction is the bounded, risk-limited order handed to the
// execution gateway. Transient; not persisted.
type OrderInstruction struct {
	ID          string   `json:"id"`
	Wallet      string   `json:"wallet"` // leader the order copies
	ConditionID string   `json:"conditionId"`
	Asset       string   `json:"asset"`
	Side        Side     `json:"side"`
	AmountUSD   float64  `json:"amountUsd"`
	MaxPrice    *float64 `json:"maxPrice,omitempty"` // buy only
	Aggregated  bool     `json:"aggregated"`
	SourceCount int      `json:"sourceCount"`
	Reason      string   `json:"reason"` // human-readable sizing/protection rationale
}

// Decision is one routing outcome, published for audit and the status API.
type Decision struct {
	Wallet      string         `json:"wallet"`
	ConditionID string         `json:"conditionId"`
	Asset       string         `json:"asset"`
	Side        Side           `json:"side"`
	NotionalUSD float64        `json:"notionalUsd"`
	Accepted    bool           `json:"accepted"`
	Reason      SuppressReason `json:"reason,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
