package models

import "time"

// ExclusionKind represents the category of a standing protection record
type ExclusionKind string

const (
	ExclusionKindManual     ExclusionKind = "manual"
	ExclusionKindUser       ExclusionKind = "user"
	ExclusionKindCollection ExclusionKind = "collection"
	ExclusionKindGenre      ExclusionKind = "genre"
	ExclusionKindTag        ExclusionKind = "tag"
	ExclusionKindTitleRegex ExclusionKind = "title_regex"
)

// ExclusionEntry represents a standing protection override. A matching entry
// short-circuits rule evaluation for the item entirely; expired entries are
// skipped. Entries are written by the API layer and only read here.
type ExclusionEntry struct {
	ID   uint          `gorm:"primaryKey" json:"id"`
	Kind ExclusionKind `gorm:"type:varchar(20);not null;index:idx_exclusions_kind" json:"kind"`

	// Value holds the kind-specific payload: an item key for manual entries,
	// a user identifier, a collection/genre/tag name, or a title regex.
	Value string `gorm:"type:varchar(255);not null" json:"value"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for ExclusionEntry
func (ExclusionEntry) TableName() string {
	return "exclusion_entries"
}

// Expired reports whether the entry has lapsed as of now
func (e *ExclusionEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// WatchlistEntry represents a user's watchlist membership for a piece of
// content. An active entry makes the content immune to destructive actions
// regardless of any rule match. Written by the sync service, read-only here.
type WatchlistEntry struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"type:varchar(64);not null;index:idx_watchlist_user" json:"user_id"`
	Title  string `gorm:"type:varchar(255);not null" json:"title"`
	Year   int    `gorm:"not null;default:0" json:"year"`

	// External identifiers used by the ranked matcher chain
	TMDBID *int `gorm:"index:idx_watchlist_tmdb" json:"tmdb_id,omitempty"`
	TVDBID *int `gorm:"index:idx_watchlist_tvdb" json:"tvdb_id,omitempty"`

	// ItemKey is the media-server identifier when the sync service resolved one
	ItemKey *string `gorm:"type:varchar(64);index:idx_watchlist_item" json:"item_key,omitempty"`

	Active    bool      `gorm:"not null;default:true;index:idx_watchlist_active" json:"active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for WatchlistEntry
func (WatchlistEntry) TableName() string {
	return "watchlist_entries"
}

// VelocityRecord represents a user's watch position and pace for one show,
// maintained by watch-history ingestion. The engine reads these for
// observability; the analyzer recomputes positions from raw history.
type VelocityRecord struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	UserID  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_velocity_user_show" json:"user_id"`
	ShowKey string `gorm:"type:varchar(64);not null;uniqueIndex:idx_velocity_user_show" json:"show_key"`

	AbsolutePosition int     `gorm:"not null;default:0" json:"absolute_position"`
	Season           int     `gorm:"not null;default:0" json:"season"`
	Episode          int     `gorm:"not null;default:0" json:"episode"`
	EpisodesPerDay   float64 `gorm:"not null;default:0" json:"episodes_per_day"`

	LastWatchedAt time.Time `gorm:"not null" json:"last_watched_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for VelocityRecord
func (VelocityRecord) TableName() string {
	return "velocity_records"
}
