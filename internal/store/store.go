// Package store provides the gorm-backed repositories for rules, exclusions,
// watchlist entries and velocity records. The engine consumes these through
// narrow read interfaces; writes come from the API layer and sync passes.
package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/models"
)

// Rules is the rule repository
type Rules struct {
	db *gorm.DB
}

// NewRules creates a rule repository
func NewRules(db *gorm.DB) *Rules {
	return &Rules{db: db}
}

// ListActive returns active rules in evaluation order: priority descending,
// then creation ascending as the tiebreaker
func (r *Rules) ListActive(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("priority DESC, created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, errors.DatabaseError("failed to list active rules", err)
	}
	return rules, nil
}

// List returns every rule in evaluation order
func (r *Rules) List(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	err := r.db.WithContext(ctx).
		Order("priority DESC, created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, errors.DatabaseError("failed to list rules", err)
	}
	return rules, nil
}

// Get fetches one rule by ID
func (r *Rules) Get(ctx context.Context, id uint) (*models.Rule, error) {
	var rule models.Rule
	err := r.db.WithContext(ctx).First(&rule, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFoundError("rule", "")
		}
		return nil, errors.DatabaseError("failed to fetch rule", err)
	}
	return &rule, nil
}

// Create persists a new rule
func (r *Rules) Create(ctx context.Context, rule *models.Rule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return errors.DatabaseError("failed to create rule", err)
	}
	return nil
}

// Update persists changes to an existing rule
func (r *Rules) Update(ctx context.Context, rule *models.Rule) error {
	if err := r.db.WithContext(ctx).Save(rule).Error; err != nil {
		return errors.DatabaseError("failed to update rule", err)
	}
	return nil
}

// Delete removes a rule and cascades to its queue items
func (r *Rules) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Rule{}, id)
	if result.Error != nil {
		return errors.DatabaseError("failed to delete rule", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundError("rule", "")
	}
	return nil
}

// RecordRun updates a rule's run statistics. Runs unconditionally after
// every evaluation, including failed ones, so stale rules stay visible.
func (r *Rules) RecordRun(ctx context.Context, id uint, matches int) error {
	err := r.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run":         gorm.Expr("CURRENT_TIMESTAMP"),
			"last_run_matches": matches,
		}).Error
	if err != nil {
		return errors.DatabaseError("failed to record rule run", err)
	}
	return nil
}

// Exclusions is the standing-protection repository
type Exclusions struct {
	db *gorm.DB
}

// NewExclusions creates an exclusion repository
func NewExclusions(db *gorm.DB) *Exclusions {
	return &Exclusions{db: db}
}

// Exclusions returns every exclusion entry, expired ones included; callers
// filter by expiry against their own evaluation clock
func (e *Exclusions) Exclusions(ctx context.Context) ([]models.ExclusionEntry, error) {
	var entries []models.ExclusionEntry
	if err := e.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, errors.DatabaseError("failed to list exclusions", err)
	}
	return entries, nil
}

// Create persists a new exclusion entry
func (e *Exclusions) Create(ctx context.Context, entry *models.ExclusionEntry) error {
	if err := e.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errors.DatabaseError("failed to create exclusion", err)
	}
	return nil
}

// Delete removes an exclusion entry
func (e *Exclusions) Delete(ctx context.Context, id uint) error {
	result := e.db.WithContext(ctx).Delete(&models.ExclusionEntry{}, id)
	if result.Error != nil {
		return errors.DatabaseError("failed to delete exclusion", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundError("exclusion", "")
	}
	return nil
}

// Watchlist is the internally-synced watchlist repository
type Watchlist struct {
	db *gorm.DB
}

// NewWatchlist creates a watchlist repository
func NewWatchlist(db *gorm.DB) *Watchlist {
	return &Watchlist{db: db}
}

// ActiveEntries returns the entries currently acting as protection signals
func (w *Watchlist) ActiveEntries(ctx context.Context) ([]models.WatchlistEntry, error) {
	var entries []models.WatchlistEntry
	err := w.db.WithContext(ctx).Where("active = ?", true).Find(&entries).Error
	if err != nil {
		return nil, errors.DatabaseError("failed to list watchlist entries", err)
	}
	return entries, nil
}

// Upsert writes one synced entry, keyed by user and title
func (w *Watchlist) Upsert(ctx context.Context, entry *models.WatchlistEntry) error {
	err := w.db.WithContext(ctx).
		Where("user_id = ? AND title = ? AND year = ?", entry.UserID, entry.Title, entry.Year).
		Assign(map[string]interface{}{
			"tmdb_id":  entry.TMDBID,
			"tvdb_id":  entry.TVDBID,
			"item_key": entry.ItemKey,
			"active":   entry.Active,
		}).
		FirstOrCreate(entry).Error
	if err != nil {
		return errors.DatabaseError("failed to upsert watchlist entry", err)
	}
	return nil
}

// Velocity is the per-user watch-position repository
type Velocity struct {
	db *gorm.DB
}

// NewVelocity creates a velocity repository
func NewVelocity(db *gorm.DB) *Velocity {
	return &Velocity{db: db}
}

// Replace upserts the computed records for a show, keyed by user and show
func (v *Velocity) Replace(ctx context.Context, records []models.VelocityRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := v.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "show_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"absolute_position", "season", "episode", "episodes_per_day",
			"last_watched_at", "updated_at",
		}),
	}).Create(&records).Error
	if err != nil {
		return errors.DatabaseError("failed to replace velocity records", err)
	}
	return nil
}

// ForShow returns the stored records for one show
func (v *Velocity) ForShow(ctx context.Context, showKey string) ([]models.VelocityRecord, error) {
	var records []models.VelocityRecord
	err := v.db.WithContext(ctx).Where("show_key = ?", showKey).Find(&records).Error
	if err != nil {
		return nil, errors.DatabaseError("failed to list velocity records", err)
	}
	return records, nil
}

// Audit reads persisted audit events and daily counters for the API
type Audit struct {
	db *gorm.DB
}

// NewAudit creates an audit read repository
func NewAudit(db *gorm.DB) *Audit {
	return &Audit{db: db}
}

// RecentEvents returns the newest events, optionally filtered by type
func (a *Audit) RecentEvents(ctx context.Context, eventType string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := a.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}

	var events []models.AuditEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, errors.DatabaseError("failed to list audit events", err)
	}
	return events, nil
}

// RecentStats returns the daily counters for the last N days
func (a *Audit) RecentStats(ctx context.Context, days int) ([]models.DailyStat, error) {
	if days <= 0 {
		days = 30
	}
	var stats []models.DailyStat
	err := a.db.WithContext(ctx).
		Order("date DESC").
		Limit(days).
		Find(&stats).Error
	if err != nil {
		return nil, errors.DatabaseError("failed to list daily stats", err)
	}
	return stats, nil
}
