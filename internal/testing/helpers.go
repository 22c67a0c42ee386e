package testing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sybethiesant/flexerr/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB creates an in-memory SQLite database for testing
func TestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Rule{},
		&models.QueueItem{},
		&models.ExclusionEntry{},
		&models.WatchlistEntry{},
		&models.VelocityRecord{},
		&models.AuditEvent{},
		&models.DailyStat{},
	); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// CleanupDB removes all records from test database tables
func CleanupDB(t *testing.T, db *gorm.DB) {
	t.Helper()

	db.Exec("DELETE FROM queue_items")
	db.Exec("DELETE FROM rules")
	db.Exec("DELETE FROM exclusion_entries")
	db.Exec("DELETE FROM watchlist_entries")
	db.Exec("DELETE FROM velocity_records")
	db.Exec("DELETE FROM audit_events")
	db.Exec("DELETE FROM daily_stats")
}

// JSONString marshals v and returns a pointer to the encoded text, matching
// how rule conditions, actions and smart params are stored.
func JSONString(t *testing.T, v interface{}) *string {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal json: %v", err)
	}
	s := string(data)
	return &s
}

// CreateRule creates a test rule
func CreateRule(db *gorm.DB, overrides ...func(*models.Rule)) *models.Rule {
	rule := &models.Rule{
		Name:       "Test Rule",
		Priority:   0,
		Active:     true,
		TargetKind: models.MediaKindMovies,
		BufferDays: 7,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	for _, override := range overrides {
		override(rule)
	}

	db.Create(rule)
	return rule
}

// CreateQueueItem creates a test queue item
func CreateQueueItem(db *gorm.DB, ruleID uint, overrides ...func(*models.QueueItem)) *models.QueueItem {
	item := &models.QueueItem{
		RuleID:    ruleID,
		ItemKey:   "item-1",
		ItemTitle: "Test Movie",
		MediaKind: models.MediaKindMovies,
		ActionAt:  time.Now().Add(-time.Hour),
		Status:    models.QueueStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	for _, override := range overrides {
		override(item)
	}

	db.Create(item)
	return item
}

// CreateWatchlistEntry creates a test watchlist entry
func CreateWatchlistEntry(db *gorm.DB, overrides ...func(*models.WatchlistEntry)) *models.WatchlistEntry {
	entry := &models.WatchlistEntry{
		UserID:    "user-1",
		Title:     "Test Movie",
		Year:      2020,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	for _, override := range overrides {
		override(entry)
	}

	db.Create(entry)
	return entry
}

// CreateExclusion creates a test exclusion entry
func CreateExclusion(db *gorm.DB, kind models.ExclusionKind, value string, overrides ...func(*models.ExclusionEntry)) *models.ExclusionEntry {
	entry := &models.ExclusionEntry{
		Kind:      kind,
		Value:     value,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	for _, override := range overrides {
		override(entry)
	}

	db.Create(entry)
	return entry
}
