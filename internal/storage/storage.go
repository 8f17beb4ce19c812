// Package storage provides the Postgres-backed persistence layer: leader
// records and the processed-signal ledger.
package storage

import (
	"fmt"
	"net/url"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config describes the Postgres connection.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// DSN renders the connection string.
func (c Config) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	u.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()
	return u.String()
}

// DB wraps the gorm connection shared by the stores.
type DB struct {
	logger *zap.Logger
	gorm   *gorm.DB
}

// Open connects to Postgres and runs migrations.
func Open(logger *zap.Logger, cfg Config) (*DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	d := &DB{logger: logger.Named("storage"), gorm: db}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate() error {
	if err := d.gorm.AutoMigrate(&leaderRow{}, &processedRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// The uniqueness constraint behind leader election: at most one active
	// record per condition, enforced by the database rather than locks.
	if err := d.gorm.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_leader_active_condition
		 ON leader_records (condition_id) WHERE active`,
	).Error; err != nil {
		return fmt.Errorf("create leader uniqueness index: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
