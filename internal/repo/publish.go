// Package repo implements the persistence layer for synchronized state,
// backed by GORM. This file provides repository helpers for the
// PublishRecord model used to implement safe-retry semantics for message
// sends.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thoughtsync/thoughtsync/internal/domain"
)

// ErrDuplicate indicates that a publish record already exists for the
// given (thought_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetPublishRecord returns a non-expired record or ErrNotFound.
func GetPublishRecord(ctx context.Context, db *gorm.DB, thoughtID, key string, now time.Time) (*domain.PublishRecord, error) {
	if strings.TrimSpace(thoughtID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.PublishRecord
	err := db.WithContext(ctx).
		Where("thought_id = ? AND key = ? AND expires_at > ?", thoughtID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreatePublishRecord inserts a record and returns ErrDuplicate on unique violation.
func CreatePublishRecord(ctx context.Context, db *gorm.DB, thoughtID, key, eventID string, ttl time.Duration) (*domain.PublishRecord, error) {
	now := time.Now().UTC()
	rec := &domain.PublishRecord{
		ID:        uuid.NewString(),
		ThoughtID: thoughtID,
		Key:       key,
		EventID:   eventID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredPublishRecords deletes every record whose TTL has elapsed and
// reports how many rows were removed.
func PurgeExpiredPublishRecords(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.PublishRecord{})
	return res.RowsAffected, res.Error
}
