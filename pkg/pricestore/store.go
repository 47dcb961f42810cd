// Package pricestore persists extracted price records. Records are
// append-only; deduplication is day-level via the unique (name,
// price_date) index.
package pricestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"aluwatch/pkg/db"
	"aluwatch/pkg/db/models"
)

// DefaultQueryLimit bounds range queries from the admin surface
const DefaultQueryLimit = 100

// ErrDuplicateRecord is returned by Append when a record for the same
// source and day already exists.
var ErrDuplicateRecord = errors.New("a record for this source and day already exists")

// Store provides append-only persistence of price records
type Store struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// New creates a Store backed by the given database
func New(gdb *gorm.DB, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{db: gdb, logger: logger}
}

// Append inserts a record. Inserts are never turned into updates; a
// second record for the same (name, day) pair reports ErrDuplicateRecord.
func (s *Store) Append(ctx context.Context, record *models.PriceRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("failed to append price record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"source":     record.Name,
		"price_date": record.PriceDate,
		"avg_price":  record.AvgPrice,
	}).Info("Persisted price record")
	return nil
}

// HasRecordForDate reports whether any source has produced a record for
// the given day key. This backs the daily-obligation short-circuit.
func (s *Store) HasRecordForDate(ctx context.Context, dateKey int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.PriceRecord{}).
		Where("price_date = ?", dateKey).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check records for date %d: %w", dateKey, err)
	}
	return count > 0, nil
}

// Latest returns the most recently appended record, or nil when the
// store is empty.
func (s *Store) Latest(ctx context.Context) (*models.PriceRecord, error) {
	var record models.PriceRecord
	err := s.db.WithContext(ctx).Order("id DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest record: %w", err)
	}
	return &record, nil
}

// RecordsBetween returns records with day keys in [from, to], optionally
// filtered by source name, newest first, capped at limit.
func (s *Store) RecordsBetween(ctx context.Context, from, to int, name string, limit int) ([]models.PriceRecord, error) {
	if limit <= 0 || limit > DefaultQueryLimit {
		limit = DefaultQueryLimit
	}

	query := s.db.WithContext(ctx).
		Where("price_date >= ? AND price_date <= ?", from, to).
		Order("price_date DESC, id DESC").
		Limit(limit)
	if name != "" {
		query = query.Where("name = ?", name)
	}

	var records []models.PriceRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query records between %d and %d: %w", from, to, err)
	}
	return records, nil
}
