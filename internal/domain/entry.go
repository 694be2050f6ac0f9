package domain

import "time"

// Entry is one row of the persistent key-value store. Every state slice is
// serialized to JSON and written under a fixed key; per-thought message
// history uses the "messages:<thoughtID>" key prefix.
type Entry struct {
	Key       string    `json:"key"        gorm:"type:TEXT NOT NULL;primaryKey"`
	Value     []byte    `json:"value"      gorm:"type:BLOB NOT NULL"`
	UpdatedAt time.Time `json:"updated_at" gorm:"type:DATETIME NOT NULL;autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (Entry) TableName() string { return "kv" }

// PublishRecord remembers the event id produced for a prior message send,
// keyed by (thought_id, key). It lets the HTTP layer replay the original
// response for retried sends instead of publishing a duplicate event.
type PublishRecord struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ThoughtID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_thought_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_thought_key,priority:2"`
	EventID   string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (PublishRecord) TableName() string { return "publish_records" }
