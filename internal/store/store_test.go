package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/models"
	apptest "github.com/sybethiesant/flexerr/internal/testing"
)

func TestRulesListActiveOrdering(t *testing.T) {
	db := apptest.TestDB(t)
	rules := NewRules(db)
	ctx := context.Background()

	apptest.CreateRule(db, func(r *models.Rule) {
		r.Name = "low"
		r.Priority = 1
	})
	apptest.CreateRule(db, func(r *models.Rule) {
		r.Name = "high"
		r.Priority = 10
	})
	apptest.CreateRule(db, func(r *models.Rule) {
		r.Name = "inactive"
		r.Priority = 100
		r.Active = false
	})

	active, err := rules.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "high", active[0].Name)
	assert.Equal(t, "low", active[1].Name)
}

func TestRulesCRUD(t *testing.T) {
	db := apptest.TestDB(t)
	rules := NewRules(db)
	ctx := context.Background()

	rule := &models.Rule{
		Name:       "cleanup",
		TargetKind: models.MediaKindMovies,
		Active:     true,
		BufferDays: 14,
	}
	require.NoError(t, rules.Create(ctx, rule))
	require.NotZero(t, rule.ID)

	got, err := rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "cleanup", got.Name)

	got.Name = "renamed"
	require.NoError(t, rules.Update(ctx, got))

	got, err = rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, rules.Delete(ctx, rule.ID))

	_, err = rules.Get(ctx, rule.ID)
	assert.True(t, errors.IsNotFound(err))

	assert.True(t, errors.IsNotFound(rules.Delete(ctx, rule.ID)))
}

func TestRulesRecordRun(t *testing.T) {
	db := apptest.TestDB(t)
	rules := NewRules(db)
	ctx := context.Background()

	rule := apptest.CreateRule(db)
	require.Nil(t, rule.LastRun)

	require.NoError(t, rules.RecordRun(ctx, rule.ID, 7))

	got, err := rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastRun)
	assert.Equal(t, 7, got.LastRunMatches)
}

func TestExclusionsRoundTrip(t *testing.T) {
	db := apptest.TestDB(t)
	exclusions := NewExclusions(db)
	ctx := context.Background()

	entry := &models.ExclusionEntry{
		Kind:  models.ExclusionKindGenre,
		Value: "Documentary",
	}
	require.NoError(t, exclusions.Create(ctx, entry))

	entries, err := exclusions.Exclusions(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ExclusionKindGenre, entries[0].Kind)

	require.NoError(t, exclusions.Delete(ctx, entry.ID))
	assert.True(t, errors.IsNotFound(exclusions.Delete(ctx, entry.ID)))
}

func TestWatchlistActiveEntries(t *testing.T) {
	db := apptest.TestDB(t)
	watchlist := NewWatchlist(db)
	ctx := context.Background()

	apptest.CreateWatchlistEntry(db, func(e *models.WatchlistEntry) {
		e.UserID = "alice"
	})
	apptest.CreateWatchlistEntry(db, func(e *models.WatchlistEntry) {
		e.UserID = "bob"
		e.Active = false
	})

	entries, err := watchlist.ActiveEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].UserID)
}

func TestWatchlistUpsert(t *testing.T) {
	db := apptest.TestDB(t)
	watchlist := NewWatchlist(db)
	ctx := context.Background()

	entry := &models.WatchlistEntry{
		UserID: "alice",
		Title:  "Heat",
		Year:   1995,
		Active: true,
	}
	require.NoError(t, watchlist.Upsert(ctx, entry))

	// A second sync pass for the same content updates in place
	update := &models.WatchlistEntry{
		UserID: "alice",
		Title:  "Heat",
		Year:   1995,
		Active: false,
	}
	require.NoError(t, watchlist.Upsert(ctx, update))

	var count int64
	db.Model(&models.WatchlistEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)

	entries, err := watchlist.ActiveEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVelocityReplace(t *testing.T) {
	db := apptest.TestDB(t)
	velocity := NewVelocity(db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, velocity.Replace(ctx, []models.VelocityRecord{
		{UserID: "alice", ShowKey: "show-1", AbsolutePosition: 5, EpisodesPerDay: 1.0, LastWatchedAt: now, UpdatedAt: now},
	}))

	// Replacing advances the stored position instead of duplicating
	require.NoError(t, velocity.Replace(ctx, []models.VelocityRecord{
		{UserID: "alice", ShowKey: "show-1", AbsolutePosition: 8, EpisodesPerDay: 1.5, LastWatchedAt: now, UpdatedAt: now},
	}))

	records, err := velocity.ForShow(ctx, "show-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 8, records[0].AbsolutePosition)
	assert.InDelta(t, 1.5, records[0].EpisodesPerDay, 0.001)

	// Empty input is a no-op
	require.NoError(t, velocity.Replace(ctx, nil))
}

func TestAuditRecentEvents(t *testing.T) {
	db := apptest.TestDB(t)
	audit := NewAudit(db)
	ctx := context.Background()

	for i, eventType := range []string{"rule_evaluated", "item_deleted", "rule_evaluated"} {
		db.Create(&models.AuditEvent{
			EventID:   time.Now().Format("150405.000") + string(rune('a'+i)),
			Type:      eventType,
			Message:   "event",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}

	events, err := audit.RecentEvents(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	deleted, err := audit.RecentEvents(ctx, "item_deleted", 0)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "item_deleted", deleted[0].Type)

	limited, err := audit.RecentEvents(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestAuditRecentStats(t *testing.T) {
	db := apptest.TestDB(t)
	audit := NewAudit(db)
	ctx := context.Background()

	db.Create(&models.DailyStat{Date: "2024-01-01", ItemsDeleted: 2, UpdatedAt: time.Now()})
	db.Create(&models.DailyStat{Date: "2024-01-02", ItemsDeleted: 5, UpdatedAt: time.Now()})

	stats, err := audit.RecentStats(ctx, 30)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "2024-01-02", stats[0].Date)

	one, err := audit.RecentStats(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
