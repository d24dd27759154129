package models

import (
	"time"
)

// Event is the persisted row of the append-only event store. Rows are
// never updated or deleted, with two service-local exceptions: the
// Processed flag and Error column used by the projection worker. Neither
// belongs to the event's logical identity.
type Event struct {
	// SequenceNumber is the autoincrementing primary key and the total
	// order across all aggregates.
	SequenceNumber int64  `gorm:"primaryKey;autoIncrement" json:"sequence_number"`
	EventID        string `gorm:"type:varchar(36);uniqueIndex;not null" json:"event_id"`
	EventType      string `gorm:"type:varchar(50);index;not null" json:"event_type"`

	// The aggregate_version unique index is the optimistic-concurrency
	// backstop: two writers racing for the same version cannot both commit.
	AggregateID      int64  `gorm:"index;uniqueIndex:idx_aggregate_version;not null" json:"aggregate_id"`
	AggregateType    string `gorm:"type:varchar(50);uniqueIndex:idx_aggregate_version;not null" json:"aggregate_type"`
	AggregateVersion int    `gorm:"uniqueIndex:idx_aggregate_version;not null" json:"aggregate_version"`

	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	UserID    string    `gorm:"type:varchar(100);not null" json:"user_id"`
	Payload   []byte    `gorm:"not null" json:"payload"`
	Metadata  []byte    `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Processed bool    `gorm:"index" json:"processed"`
	Error     *string `json:"error"`
}

// TableName keeps the table name compatible with external readers of the log.
func (Event) TableName() string { return "event_store" }
