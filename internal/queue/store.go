// Package queue owns the deferred-action queue: the buffered, re-validated
// holding area between a rule match and its destructive execution.
package queue

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/models"
)

// Store persists queue items and enforces their state machine. All
// transitions out of pending go through Transition, which is a single
// compare-and-set so a destructive action can never execute twice.
type Store struct {
	db *gorm.DB
}

// NewStore creates a queue store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Insert adds a pending entry for an item unless a live one already exists.
// A dry-run placeholder for the same item is replaced, since the rule or
// schedule that produced it may have changed. Returns the stored entry and
// whether a new row was written.
func (s *Store) Insert(ctx context.Context, item *models.QueueItem) (*models.QueueItem, bool, error) {
	var inserted bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.QueueItem
		err := tx.Where("item_key = ? AND status = ? AND is_dry_run = ?",
			item.ItemKey, models.QueueStatusPending, false).
			First(&existing).Error
		if err == nil {
			// Live pending entry wins over any new insertion
			*item = existing
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		// Stale dry-run previews for this item give way to the new entry
		err = tx.Where("item_key = ? AND status = ? AND is_dry_run = ?",
			item.ItemKey, models.QueueStatusPending, true).
			Delete(&models.QueueItem{}).Error
		if err != nil {
			return err
		}

		item.Status = models.QueueStatusPending
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return nil, false, errors.DatabaseError("failed to insert queue item", err)
	}
	return item, inserted, nil
}

// Due returns pending, non-dry-run entries whose action time has passed,
// oldest due first, capped at limit
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]models.QueueItem, error) {
	var items []models.QueueItem
	err := s.db.WithContext(ctx).
		Where("status = ? AND is_dry_run = ? AND action_at <= ?",
			models.QueueStatusPending, false, now).
		Order("action_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, errors.DatabaseError("failed to list due queue items", err)
	}
	return items, nil
}

// Pending returns every pending entry, live and dry-run alike
func (s *Store) Pending(ctx context.Context) ([]models.QueueItem, error) {
	var items []models.QueueItem
	err := s.db.WithContext(ctx).
		Where("status = ?", models.QueueStatusPending).
		Order("action_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, errors.DatabaseError("failed to list pending queue items", err)
	}
	return items, nil
}

// PendingLive returns pending entries that are not dry-run placeholders
func (s *Store) PendingLive(ctx context.Context) ([]models.QueueItem, error) {
	var items []models.QueueItem
	err := s.db.WithContext(ctx).
		Where("status = ? AND is_dry_run = ?", models.QueueStatusPending, false).
		Order("action_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, errors.DatabaseError("failed to list live queue items", err)
	}
	return items, nil
}

// List returns queue items filtered by status, newest first. An empty
// status returns everything.
func (s *Store) List(ctx context.Context, status models.QueueStatus, limit int) ([]models.QueueItem, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []models.QueueItem
	if err := query.Find(&items).Error; err != nil {
		return nil, errors.DatabaseError("failed to list queue items", err)
	}
	return items, nil
}

// Get fetches one queue item
func (s *Store) Get(ctx context.Context, id uint) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFoundError("queue item", "")
		}
		return nil, errors.DatabaseError("failed to fetch queue item", err)
	}
	return &item, nil
}

// Transition moves a pending item into a terminal state. The update is
// conditional on the row still being pending; a zero row count means
// another pass already moved it, reported as a transition error.
func (s *Store) Transition(ctx context.Context, id uint, to models.QueueStatus, errorMessage *string) error {
	if !to.Terminal() {
		return errors.QueueTransitionError("queue items can only transition into a terminal state")
	}

	result := s.db.WithContext(ctx).
		Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, models.QueueStatusPending).
		Updates(map[string]interface{}{
			"status":        to,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return errors.DatabaseError("failed to transition queue item", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.QueueTransitionError("queue item is no longer pending")
	}
	return nil
}

// DeleteDryRuns clears all dry-run placeholders, used before a fresh preview
func (s *Store) DeleteDryRuns(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Where("is_dry_run = ?", true).
		Delete(&models.QueueItem{}).Error
	if err != nil {
		return errors.DatabaseError("failed to clear dry-run queue items", err)
	}
	return nil
}
