// Package repo implements the persistence layer for synchronized state,
// backed by GORM. This file provides the key-value storage primitives the
// state store is built on.
//
// Each state slice (identity, thoughts, profiles, relays, active thought)
// is serialized by the caller and written under a fixed key; per-thought
// message history lives under the "messages:<thoughtID>" prefix. The
// functions here are deliberately dumb: no serialization, no business
// rules, only row access.
//
// Error semantics:
//   - GetItem returns (nil, nil) when the key does not exist, mirroring
//     the absent-key behavior of a browser localStorage lookup.
//   - On DB errors (connectivity, constraint violations, etc.) the raw
//     gorm error is propagated.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thoughtsync/thoughtsync/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the store layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetItem returns the value stored under key, or (nil, nil) if the key has
// never been written.
func GetItem(ctx context.Context, db *gorm.DB, key string) ([]byte, error) {
	var e domain.Entry
	err := db.WithContext(ctx).First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// SetItem writes value under key, replacing any previous value.
func SetItem(ctx context.Context, db *gorm.DB, key string, value []byte) error {
	e := domain.Entry{Key: key, Value: value}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(&e).Error
}

// RemoveItem deletes the row for key. Deleting a missing key is not an error.
func RemoveItem(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).Delete(&domain.Entry{}, "key = ?", key).Error
}

// Keys returns every stored key that starts with prefix, ordered
// lexicographically. An empty prefix lists the whole table.
func Keys(ctx context.Context, db *gorm.DB, prefix string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("key LIKE ?", prefix+"%").
		Order("key asc").
		Pluck("key", &out).Error
	return out, err
}
