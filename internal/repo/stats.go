// Package repo implements the persistence layer for synchronized state,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) and the stats
// endpoint in the HTTP layer. Each function is context-aware and safe to
// call from the store or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/thoughtsync/thoughtsync/internal/domain"
)

// StoreStats returns aggregate metadata for the key-value table: the total
// number of rows and the maximum UpdatedAt timestamp among those rows.
//
// When the table is empty, the returned count is 0 and maxUpdatedAt is nil.
//
// Return values:
//   - count:        total rows in the kv table
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func StoreStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Entry{})

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// CountPrefix returns the number of kv rows whose key starts with prefix.
// It backs the per-thought portion of the stats endpoint, where prefix is
// the "messages:" namespace.
func CountPrefix(ctx context.Context, db *gorm.DB, prefix string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("key LIKE ?", prefix+"%").
		Count(&total).Error
	return total, err
}
