package models

import "time"

// MediaKind represents the kind of library item a rule targets
type MediaKind string

const (
	MediaKindMovies   MediaKind = "movies"
	MediaKindShows    MediaKind = "shows"
	MediaKindSeasons  MediaKind = "seasons"
	MediaKindEpisodes MediaKind = "episodes"
)

// Valid reports whether the media kind is one of the known targets
func (k MediaKind) Valid() bool {
	switch k {
	case MediaKindMovies, MediaKindShows, MediaKindSeasons, MediaKindEpisodes:
		return true
	}
	return false
}

// Rule represents a lifecycle rule: a condition tree plus an ordered action
// list evaluated against a target library. Rules are created and edited
// through the API layer; the engine only reads them and writes back
// LastRun/LastRunMatches after each evaluation.
type Rule struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Priority   int       `gorm:"not null;default:0;index:idx_rules_priority" json:"priority"`
	Active     bool      `gorm:"not null;default:true;index:idx_rules_active" json:"active"`
	TargetKind MediaKind `gorm:"type:varchar(20);not null" json:"target_kind"`

	// LibraryIDs is a JSON array of media-server library identifiers this
	// rule is restricted to. Null means every library of the target kind.
	LibraryIDs *string `gorm:"type:text" json:"library_ids,omitempty"`

	// Conditions is the serialized condition tree; Actions is the serialized
	// ordered action list. Both are decoded by the rules package.
	Conditions *string `gorm:"type:text" json:"conditions,omitempty"`
	Actions    *string `gorm:"type:text" json:"actions,omitempty"`

	BufferDays int `gorm:"not null;default:0" json:"buffer_days"`

	SmartMode   bool    `gorm:"not null;default:false" json:"smart_mode"`
	SmartParams *string `gorm:"type:text" json:"smart_params,omitempty"`

	LastRun        *time.Time `json:"last_run,omitempty"`
	LastRunMatches int        `gorm:"not null;default:0" json:"last_run_matches"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for Rule
func (Rule) TableName() string {
	return "rules"
}

// SmartParams holds the tuning block for velocity-aware episode protection.
// It is stored as a JSON column on Rule and only meaningful when SmartMode
// is set and the rule targets shows, seasons or episodes.
type SmartParams struct {
	MinDaysSinceWatch      int  `json:"min_days_since_watch"`
	VelocityBufferDays     int  `json:"velocity_buffer_days"`
	ProtectEpisodesAhead   int  `json:"protect_episodes_ahead"`
	ActiveViewerDays       int  `json:"active_viewer_days"`
	RequireAllUsersWatched bool `json:"require_all_users_watched"`
	ProactiveRedownload    bool `json:"proactive_redownload"`
	RedownloadLeadDays     int  `json:"redownload_lead_days"`
}

// DefaultSmartParams returns conservative defaults for smart mode
func DefaultSmartParams() SmartParams {
	return SmartParams{
		MinDaysSinceWatch:    14,
		VelocityBufferDays:   7,
		ProtectEpisodesAhead: 3,
		ActiveViewerDays:     30,
		RedownloadLeadDays:   5,
	}
}
