package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sybethiesant/flexerr/internal/audit"
	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/models"
)

// Outcome is the result of re-validating or executing a queue item
type Outcome string

const (
	// OutcomeValid means the item still matches and remains actionable
	OutcomeValid Outcome = "valid"

	// OutcomeGone means the backing item vanished; nothing left to do
	OutcomeGone Outcome = "gone"

	// OutcomeProtected means a watchlist or exclusion now shields the item
	OutcomeProtected Outcome = "protected"

	// OutcomeStale means the originating rule no longer matches the item
	OutcomeStale Outcome = "stale"

	// OutcomeExecuted means the destructive actions ran successfully
	OutcomeExecuted Outcome = "executed"

	// OutcomeDeferred means re-validation could not complete, usually a
	// transient collaborator failure. The item stays pending and the next
	// pass retries; a protection signal that cannot be read is never
	// treated as absent.
	OutcomeDeferred Outcome = "deferred"
)

// Executor re-validates and executes queued decisions. Implemented by the
// rule engine; the processor only drives state transitions.
type Executor interface {
	// Revalidate re-checks a pending item without executing anything
	Revalidate(ctx context.Context, item *models.QueueItem) (Outcome, error)

	// Execute re-validates and, when still valid, runs the destructive
	// actions. Never called twice for the same item.
	Execute(ctx context.Context, item *models.QueueItem) (Outcome, error)
}

// Processor drains due queue items and keeps the pending set honest. Runs
// are sequential; the scheduler guarantees a single pass in flight.
type Processor struct {
	store     *Store
	executor  Executor
	audit     audit.Sink
	logger    *logger.Logger
	maxPerRun int
}

// NewProcessor creates a queue processor
func NewProcessor(store *Store, executor Executor, sink audit.Sink, log *logger.Logger, maxPerRun int) *Processor {
	if log == nil {
		log = logger.Default()
	}
	if sink == nil {
		sink = audit.NewLogSink(log)
	}
	if maxPerRun <= 0 {
		maxPerRun = 50
	}
	return &Processor{
		store:     store,
		executor:  executor,
		audit:     sink,
		logger:    log,
		maxPerRun: maxPerRun,
	}
}

// Result summarizes one processing pass
type Result struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Errored   int `json:"errored"`
	Deferred  int `json:"deferred"`
}

// Process executes due queue items, oldest first, up to the per-run cap
func (p *Processor) Process(ctx context.Context) (*Result, error) {
	due, err := p.store.Due(ctx, time.Now(), p.maxPerRun)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for i := range due {
		item := &due[i]
		result.Processed++

		outcome, execErr := p.executor.Execute(ctx, item)
		if outcome == OutcomeDeferred {
			fields := map[string]interface{}{"queue_item": item.ID}
			if execErr != nil {
				fields["cause"] = execErr.Error()
			}
			p.logger.WithFields(fields).Warn("re-validation incomplete, leaving item pending")
			result.Deferred++
			continue
		}
		if execErr != nil {
			message := execErr.Error()
			p.transition(ctx, item, models.QueueStatusError, &message)
			result.Errored++
			continue
		}

		switch outcome {
		case OutcomeExecuted, OutcomeGone:
			p.transition(ctx, item, models.QueueStatusCompleted, nil)
			result.Completed++
		case OutcomeProtected, OutcomeStale:
			p.transition(ctx, item, models.QueueStatusCancelled, nil)
			result.Cancelled++
		default:
			p.logger.WithFields(map[string]interface{}{
				"queue_item": item.ID,
				"outcome":    string(outcome),
			}).Warn("unexpected execution outcome, leaving item pending")
		}
	}
	return result, nil
}

// CleanupStale re-validates every live pending entry, cancelling those
// whose backing item vanished, became protected, or stopped matching.
// Runs before each rule pass so the visible queue stays honest.
func (p *Processor) CleanupStale(ctx context.Context) (int, error) {
	pending, err := p.store.PendingLive(ctx)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for i := range pending {
		item := &pending[i]

		outcome, err := p.executor.Revalidate(ctx, item)
		if err != nil {
			p.logger.WithFields(map[string]interface{}{
				"queue_item": item.ID,
			}).Error("failed to re-validate queue item", err)
			continue
		}

		switch outcome {
		case OutcomeGone:
			p.transition(ctx, item, models.QueueStatusCompleted, nil)
		case OutcomeProtected, OutcomeStale:
			p.transition(ctx, item, models.QueueStatusCancelled, nil)
		default:
			// Valid or deferred entries stay pending
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// transition applies a terminal state and emits the matching audit event.
// A lost compare-and-set means another pass already settled the item.
func (p *Processor) transition(ctx context.Context, item *models.QueueItem, to models.QueueStatus, errorMessage *string) {
	if err := p.store.Transition(ctx, item.ID, to, errorMessage); err != nil {
		p.logger.WithFields(map[string]interface{}{
			"queue_item": item.ID,
			"to":         string(to),
		}).Warn("queue transition skipped: " + err.Error())
		return
	}

	eventType := audit.EventQueueCompleted
	switch to {
	case models.QueueStatusCancelled:
		eventType = audit.EventQueueCancelled
	case models.QueueStatusError:
		eventType = audit.EventQueueErrored
	}

	ruleID := item.RuleID
	itemKey := item.ItemKey
	message := fmt.Sprintf("queue item for %q moved to %s", item.ItemTitle, to)
	if errorMessage != nil {
		message = fmt.Sprintf("queue item for %q failed: %s", item.ItemTitle, *errorMessage)
	}
	p.audit.Emit(ctx, audit.Event{
		Type:    eventType,
		RuleID:  &ruleID,
		ItemKey: &itemKey,
		Message: message,
	})
}
