// Package store is the row store behind the ticket service: tickets,
// lotteries, prizes, users and purchases in a SQLite database via gorm.
//
// Every call stands alone. The store offers no multi-row transaction to its
// callers; correctness under concurrency comes from conditional updates that
// report whether they matched a row.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ticketpool/internal/models"
)

var (
	// ErrNotFound is returned when a point lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrNotApplied is returned when a conditional update matched no row.
	ErrNotApplied = errors.New("conditional update not applied")
)

// Store wraps one SQLite database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	// WAL + busy timeout so concurrent page reads do not trip over writers.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite has a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Ticket{},
		&models.Lottery{},
		&models.Prize{},
		&models.User{},
		&models.Purchase{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database %s: %w", path, err)
	}

	logger.Infof("Opened ticket store at %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
