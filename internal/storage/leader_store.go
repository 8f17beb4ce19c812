package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// leaderRow is the persisted form of a leader record.
type leaderRow struct {
	ID                 uint      `gorm:"primaryKey"`
	ConditionID        string    `gorm:"column:condition_id;index;not null"`
	Wallet             string    `gorm:"column:wallet;not null"`
	Side               string    `gorm:"column:side;not null"`
	InitialSize        float64   `gorm:"column:initial_size"`
	InitialNotionalUSD float64   `gorm:"column:initial_notional_usd"`
	TransactionHash    string    `gorm:"column:transaction_hash"`
	EstablishedAt      time.Time `gorm:"column:established_at"`
	LastTradeAt        time.Time `gorm:"column:last_trade_at"`
	Active             bool      `gorm:"column:active;not null"`
	Title              string    `gorm:"column:title"`
	Outcome            string    `gorm:"column:outcome"`
}

func (leaderRow) TableName() string { return "leader_records" }

func (r leaderRow) toRecord() types.LeaderRecord {
	return types.LeaderRecord{
		ConditionID:        r.ConditionID,
		Wallet:             r.Wallet,
		Side:               types.Side(r.Side),
		InitialSize:        r.InitialSize,
		InitialNotionalUSD: r.InitialNotionalUSD,
		TransactionHash:    r.TransactionHash,
		EstablishedAt:      r.EstablishedAt,
		LastTradeAt:        r.LastTradeAt,
		Active:             r.Active,
		Title:              r.Title,
		Outcome:            r.Outcome,
	}
}

// LeaderStore is the Postgres-backed leader store. The partial unique
// index on (condition_id) WHERE active makes CreateIfAbsent race-safe
// across concurrent processes.
type LeaderStore struct {
	db *DB
}

// NewLeaderStore returns a leader store over an open DB.
func NewLeaderStore(db *DB) *LeaderStore {
	return &LeaderStore{db: db}
}

// CreateIfAbsent inserts rec unless an active leader already exists for
// the condition. Losing the race is reported through created=false and the
// surviving record, never as an error.
func (s *LeaderStore) CreateIfAbsent(ctx context.Context, rec types.LeaderRecord) (bool, types.LeaderRecord, error) {
	row := leaderRow{
		ConditionID:        rec.ConditionID,
		Wallet:             rec.Wallet,
		Side:               string(rec.Side),
		InitialSize:        rec.InitialSize,
		InitialNotionalUSD: rec.InitialNotionalUSD,
		TransactionHash:    rec.TransactionHash,
		EstablishedAt:      rec.EstablishedAt,
		LastTradeAt:        rec.LastTradeAt,
		Active:             true,
		Title:              rec.Title,
		Outcome:            rec.Outcome,
	}

	res := s.db.gorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "condition_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "active"}}},
		DoNothing:   true,
	}).Create(&row)
	if res.Error != nil {
		return false, types.LeaderRecord{}, fmt.Errorf("insert leader record: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		return true, row.toRecord(), nil
	}

	// Another writer won the race; re-read the surviving record.
	current, err := s.FindActive(ctx, rec.ConditionID)
	if err != nil {
		return false, types.LeaderRecord{}, err
	}
	if current == nil {
		// The winning record was deactivated between insert and read.
		// Treat as a retryable conflict for the caller's next cycle.
		return false, types.LeaderRecord{}, fmt.Errorf("leader record for %s vanished after conflict", rec.ConditionID)
	}
	return false, *current, nil
}

// FindActive returns the active record for a condition, or nil.
func (s *LeaderStore) FindActive(ctx context.Context, conditionID string) (*types.LeaderRecord, error) {
	var row leaderRow
	res := s.db.gorm.WithContext(ctx).
		Where("condition_id = ? AND active", conditionID).
		Limit(1).
		Find(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("find active leader: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	rec := row.toRecord()
	return &rec, nil
}

// Deactivate clears the active flag if wallet holds leadership.
func (s *LeaderStore) Deactivate(ctx context.Context, conditionID, wallet string) (bool, error) {
	res := s.db.gorm.WithContext(ctx).
		Model(&leaderRow{}).
		Where("condition_id = ? AND wallet = ? AND active", conditionID, wallet).
		Update("active", false)
	if res.Error != nil {
		return false, fmt.Errorf("deactivate leader: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TouchLastTrade advances last_trade_at monotonically.
func (s *LeaderStore) TouchLastTrade(ctx context.Context, conditionID, wallet string, ts time.Time) error {
	res := s.db.gorm.WithContext(ctx).
		Model(&leaderRow{}).
		Where("condition_id = ? AND wallet = ? AND active", conditionID, wallet).
		Update("last_trade_at", gorm.Expr("GREATEST(last_trade_at, ?)", ts))
	if res.Error != nil {
		return fmt.Errorf("touch last trade: %w", res.Error)
	}
	return nil
}

// ListActive returns every active leader record.
func (s *LeaderStore) ListActive(ctx context.Context) ([]types.LeaderRecord, error) {
	var rows []leaderRow
	if err := s.db.gorm.WithContext(ctx).Where("active").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active leaders: %w", err)
	}
	out := make([]types.LeaderRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}
