// Package audit records structured events for rule evaluation, action
// execution and queue transitions, plus daily aggregate counters.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/models"
)

// EventType classifies an audit event
type EventType string

const (
	EventRuleEvaluated       EventType = "rule_evaluated"
	EventRuleFailed          EventType = "rule_failed"
	EventActionExecuted      EventType = "action_executed"
	EventActionFailed        EventType = "action_failed"
	EventQueueInserted       EventType = "queue_inserted"
	EventQueueCompleted      EventType = "queue_completed"
	EventQueueCancelled      EventType = "queue_cancelled"
	EventQueueErrored        EventType = "queue_errored"
	EventItemDeleted         EventType = "item_deleted"
	EventRedownloadRequested EventType = "redownload_requested"
)

// Event is one structured audit record
type Event struct {
	Type    EventType
	RuleID  *uint
	ItemKey *string
	Message string
	Details map[string]interface{}

	// BytesReclaimed feeds the daily storage counter for deletion events
	BytesReclaimed int64
}

// Sink consumes audit events. Emit must never fail the caller; sinks log
// their own persistence errors.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// LogSink writes events to the structured application log
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a log-backed sink
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.Default()
	}
	return &LogSink{logger: log}
}

// Emit writes the event to the application log
func (s *LogSink) Emit(ctx context.Context, event Event) {
	fields := map[string]interface{}{
		"event_type": string(event.Type),
	}
	if event.RuleID != nil {
		fields["rule_id"] = *event.RuleID
	}
	if event.ItemKey != nil {
		fields["item_key"] = *event.ItemKey
	}
	for k, v := range event.Details {
		fields[k] = v
	}
	s.logger.WithFields(fields).InfoContext(ctx, event.Message)
}

// DBSink persists events and maintains the daily aggregate counters
type DBSink struct {
	db     *gorm.DB
	logger *logger.Logger
}

// NewDBSink creates a database-backed sink
func NewDBSink(db *gorm.DB, log *logger.Logger) *DBSink {
	if log == nil {
		log = logger.Default()
	}
	return &DBSink{db: db, logger: log}
}

// Emit persists the event and bumps the daily counters it affects
func (s *DBSink) Emit(ctx context.Context, event Event) {
	record := models.AuditEvent{
		EventID: uuid.NewString(),
		Type:    string(event.Type),
		RuleID:  event.RuleID,
		ItemKey: event.ItemKey,
		Message: event.Message,
	}
	if len(event.Details) > 0 {
		if payload, err := json.Marshal(event.Details); err == nil {
			details := string(payload)
			record.Details = &details
		}
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Error("failed to persist audit event", err)
	}

	s.bumpCounters(ctx, event)
}

func (s *DBSink) bumpCounters(ctx context.Context, event Event) {
	var deleted, redownloads int
	var bytes int64

	switch event.Type {
	case EventItemDeleted:
		deleted = 1
		bytes = event.BytesReclaimed
	case EventRedownloadRequested:
		redownloads = 1
	default:
		return
	}

	stat := models.DailyStat{
		Date:                 time.Now().UTC().Format("2006-01-02"),
		ItemsDeleted:         deleted,
		BytesReclaimed:       bytes,
		RedownloadsRequested: redownloads,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"items_deleted":         gorm.Expr("items_deleted + ?", deleted),
			"bytes_reclaimed":       gorm.Expr("bytes_reclaimed + ?", bytes),
			"redownloads_requested": gorm.Expr("redownloads_requested + ?", redownloads),
		}),
	}).Create(&stat).Error
	if err != nil {
		s.logger.Error("failed to update daily stats", err)
	}
}

// Multi fans an event out to several sinks
type Multi []Sink

// Emit forwards the event to every sink
func (m Multi) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		sink.Emit(ctx, event)
	}
}
