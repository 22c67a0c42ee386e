package models

import "time"

// AuditEvent represents a structured record of an engine decision or side
// effect: rule evaluation, action execution, queue transition.
type AuditEvent struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	EventID string `gorm:"type:varchar(36);not null;uniqueIndex" json:"event_id"`
	Type    string `gorm:"type:varchar(50);not null;index:idx_audit_type" json:"type"`

	RuleID  *uint   `gorm:"index:idx_audit_rule" json:"rule_id,omitempty"`
	ItemKey *string `gorm:"type:varchar(64);index:idx_audit_item" json:"item_key,omitempty"`

	Message string  `gorm:"type:text;not null" json:"message"`
	Details *string `gorm:"type:text" json:"details,omitempty"`

	CreatedAt time.Time `gorm:"not null;index:idx_audit_created" json:"created_at"`
}

// TableName specifies the table name for AuditEvent
func (AuditEvent) TableName() string {
	return "audit_events"
}

// DailyStat represents aggregate counters for one calendar day
type DailyStat struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Date string `gorm:"type:varchar(10);not null;uniqueIndex" json:"date"` // YYYY-MM-DD

	ItemsDeleted         int   `gorm:"not null;default:0" json:"items_deleted"`
	BytesReclaimed       int64 `gorm:"not null;default:0" json:"bytes_reclaimed"`
	RedownloadsRequested int   `gorm:"not null;default:0" json:"redownloads_requested"`

	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for DailyStat
func (DailyStat) TableName() string {
	return "daily_stats"
}
