package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// processedRow records one routing outcome so replayed feed batches cannot
// act twice on the same logical trade.
type processedRow struct {
	ID              uint      `gorm:"primaryKey"`
	TransactionHash string    `gorm:"column:transaction_hash;uniqueIndex:idx_processed_signal,priority:1;not null"`
	Wallet          string    `gorm:"column:wallet;uniqueIndex:idx_processed_signal,priority:2;not null"`
	Asset           string    `gorm:"column:asset;uniqueIndex:idx_processed_signal,priority:3;not null"`
	Side            string    `gorm:"column:side;uniqueIndex:idx_processed_signal,priority:4;not null"`
	LastFillAt      int64     `gorm:"column:last_fill_at;uniqueIndex:idx_processed_signal,priority:5"`
	Accepted        bool      `gorm:"column:accepted"`
	Reason          string    `gorm:"column:reason"`
	ProcessedAt     time.Time `gorm:"column:processed_at"`
}

func (processedRow) TableName() string { return "processed_signals" }

// ProcessedLedger is the Postgres-backed processed-signal marker. Marking
// is idempotent: the unique index absorbs replays.
type ProcessedLedger struct {
	db *DB
}

// NewProcessedLedger returns a ledger over an open DB.
func NewProcessedLedger(db *DB) *ProcessedLedger {
	return &ProcessedLedger{db: db}
}

// MarkProcessed durably records the outcome for a signal exactly once.
func (l *ProcessedLedger) MarkProcessed(ctx context.Context, sig types.AggregatedSignal, accepted bool, reason types.SuppressReason) error {
	row := processedRow{
		TransactionHash: sig.TransactionHash,
		Wallet:          sig.Wallet,
		Asset:           sig.Asset,
		Side:            string(sig.Side),
		LastFillAt:      sig.LastFillAt,
		Accepted:        accepted,
		Reason:          string(reason),
		ProcessedAt:     time.Now().UTC(),
	}
	if err := l.db.gorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "transaction_hash"},
			{Name: "wallet"},
			{Name: "asset"},
			{Name: "side"},
			{Name: "last_fill_at"},
		},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("mark signal processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether a signal already has a recorded outcome.
func (l *ProcessedLedger) IsProcessed(ctx context.Context, sig types.AggregatedSignal) (bool, error) {
	var count int64
	err := l.db.gorm.WithContext(ctx).
		Model(&processedRow{}).
		Where("transaction_hash = ? AND wallet = ? AND asset = ? AND side = ? AND last_fill_at = ?",
			sig.TransactionHash, sig.Wallet, sig.Asset, sig.Side, sig.LastFillAt).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check processed signal: %w", err)
	}
	return count > 0, nil
}
