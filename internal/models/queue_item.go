package models

import "time"

// QueueStatus represents the lifecycle state of a queue item
type QueueStatus string

const (
	// QueueStatusPending is the only non-terminal state
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusCancelled QueueStatus = "cancelled"
	QueueStatusError     QueueStatus = "error"
)

// Terminal reports whether the status is one a queue item can never leave
func (s QueueStatus) Terminal() bool {
	return s != QueueStatusPending
}

// QueueItem represents a matched rule decision waiting out its buffer period.
// Destructive actions run at or after ActionAt and only while the item is
// still pending; every transition out of pending is one-way.
type QueueItem struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	RuleID uint `gorm:"not null;index:idx_queue_rule" json:"rule_id"`

	// ItemKey is the media-server identifier of the backing item
	ItemKey   string    `gorm:"type:varchar(64);not null;index:idx_queue_item" json:"item_key"`
	ItemTitle string    `gorm:"type:varchar(255);not null" json:"item_title"`
	MediaKind MediaKind `gorm:"type:varchar(20);not null" json:"media_kind"`

	ActionAt     time.Time   `gorm:"not null;index:idx_queue_action_at" json:"action_at"`
	Status       QueueStatus `gorm:"type:varchar(20);not null;default:pending;index:idx_queue_status" json:"status"`
	IsDryRun     bool        `gorm:"not null;default:false" json:"is_dry_run"`
	ErrorMessage *string     `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	// Associations
	Rule *Rule `gorm:"foreignKey:RuleID;constraint:OnDelete=CASCADE" json:"rule,omitempty"`
}

// TableName specifies the table name for QueueItem
func (QueueItem) TableName() string {
	return "queue_items"
}
