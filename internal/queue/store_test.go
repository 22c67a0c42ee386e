package queue

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

func newItem(ruleID uint, key string) *models.QueueItem {
	return &models.QueueItem{
		RuleID:    ruleID,
		ItemKey:   key,
		ItemTitle: "Test Item",
		MediaKind: models.MediaKindMovies,
		ActionAt:  time.Now().Add(-time.Hour),
		Status:    models.QueueStatusPending,
	}
}

func TestInsertIsIdempotentForLiveEntries(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)
	ctx := context.Background()

	first, inserted, err := store.Insert(ctx, newItem(rule.ID, "movie-1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// A second match for the same item keeps the original entry and its clock
	second, inserted, err := store.Insert(ctx, newItem(rule.ID, "movie-1"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	db.Model(&models.QueueItem{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestInsertReplacesDryRunPlaceholder(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)
	ctx := context.Background()

	placeholder := newItem(rule.ID, "movie-1")
	placeholder.IsDryRun = true
	_, inserted, err := store.Insert(ctx, placeholder)
	require.NoError(t, err)
	assert.True(t, inserted)

	live, inserted, err := store.Insert(ctx, newItem(rule.ID, "movie-1"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, live.IsDryRun)

	var count int64
	db.Model(&models.QueueItem{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestInsertAllowsDistinctItems(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)
	ctx := context.Background()

	_, _, err := store.Insert(ctx, newItem(rule.ID, "movie-1"))
	require.NoError(t, err)
	_, inserted, err := store.Insert(ctx, newItem(rule.ID, "movie-2"))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestDueOrderingAndCutoff(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)
	now := time.Now()

	apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "later"
		i.ActionAt = now.Add(-time.Hour)
	})
	apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "earlier"
		i.ActionAt = now.Add(-2 * time.Hour)
	})
	apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "future"
		i.ActionAt = now.Add(time.Hour)
	})
	apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "dry"
		i.ActionAt = now.Add(-3 * time.Hour)
		i.IsDryRun = true
	})

	due, err := store.Due(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "earlier", due[0].ItemKey)
	assert.Equal(t, "later", due[1].ItemKey)
}

func TestDueRespectsLimit(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)

	for i := 0; i < 5; i++ {
		apptest.CreateQueueItem(db, rule.ID, func(item *models.QueueItem) {
			item.ItemKey = "movie-" + string(rune('a'+i))
		})
	}

	due, err := store.Due(context.Background(), time.Now(), 3)
	require.NoError(t, err)
	assert.Len(t, due, 3)
}

func TestTransitionIsOneWay(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)
	item := apptest.CreateQueueItem(db, rule.ID)
	ctx := context.Background()

	require.NoError(t, store.Transition(ctx, item.ID, models.QueueStatusCompleted, nil))

	// A second transition loses the compare-and-set
	err := store.Transition(ctx, item.ID, models.QueueStatusCancelled, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeQueueTransition, errors.GetErrorCode(err))

	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCompleted, got.Status)
}

func TestTransitionRejectsNonTerminalTarget(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)
	item := apptest.CreateQueueItem(db, rule.ID)

	err := store.Transition(context.Background(), item.ID, models.QueueStatusPending, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeQueueTransition, errors.GetErrorCode(err))
}

func TestTransitionRecordsErrorMessage(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)
	item := apptest.CreateQueueItem(db, rule.ID)
	ctx := context.Background()

	message := "deletion failed"
	require.NoError(t, store.Transition(ctx, item.ID, models.QueueStatusError, &message))

	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, message, *got.ErrorMessage)
}

func TestDeleteDryRuns(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)
	ctx := context.Background()

	apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "dry"
		i.IsDryRun = true
	})
	apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "live"
	})

	require.NoError(t, store.DeleteDryRuns(ctx))

	items, err := store.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "live", items[0].ItemKey)
}

func TestGetNotFound(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)

	_, err := store.Get(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestListFiltersByStatus(t *testing.T) {
	db := apptest.TestDB(t)
	store := NewStore(db)
	rule := apptest.CreateRule(db)
	ctx := context.Background()

	pending := apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) { i.ItemKey = "a" })
	done := apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) { i.ItemKey = "b" })
	require.NoError(t, store.Transition(ctx, done.ID, models.QueueStatusCompleted, nil))

	items, err := store.List(ctx, models.QueueStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, pending.ID, items[0].ID)

	all, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
