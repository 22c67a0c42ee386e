package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sybethiesant/flexerr/internal/audit"
	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
	"github.com/sybethiesant/flexerr/internal/models"
	"github.com/sybethiesant/flexerr/internal/orchestrator"
	"github.com/sybethiesant/flexerr/internal/queue"
	"github.com/sybethiesant/flexerr/internal/rules"
)

// Revalidate re-checks a pending queue item against the current state of
// the world without executing anything
func (e *Engine) Revalidate(ctx context.Context, item *models.QueueItem) (queue.Outcome, error) {
	outcome, _, _, _, err := e.revalidate(ctx, item)
	return outcome, err
}

// Execute re-validates a due queue item and, when still valid, runs its
// destructive actions. Once dispatched, an action is considered committed;
// failures are recorded, never retried automatically.
func (e *Engine) Execute(ctx context.Context, item *models.QueueItem) (queue.Outcome, error) {
	outcome, rule, snapshot, actions, err := e.revalidate(ctx, item)
	if err != nil || outcome != queue.OutcomeValid {
		return outcome, err
	}

	if err := e.runDestructive(ctx, rule, snapshot, actions); err != nil {
		return "", err
	}
	return queue.OutcomeExecuted, nil
}

// revalidate performs the shared re-validation pipeline: fresh snapshot,
// protection re-checks, then a condition re-evaluation for non-smart rules.
// Smart rules skip the re-evaluation; the analyzer recomputes their
// protection state on every pass instead.
//
// A transient collaborator failure defers the item rather than settling
// it: a protection signal that cannot be read is neither a confirmed
// protection nor a confirmed absence, so the item stays pending and the
// next pass retries with the world reachable again.
func (e *Engine) revalidate(ctx context.Context, item *models.QueueItem) (queue.Outcome, *models.Rule, *mediaserver.Item, []rules.Action, error) {
	rule, err := e.rules.Get(ctx, item.RuleID)
	if err != nil {
		if errors.IsNotFound(err) {
			return queue.OutcomeStale, nil, nil, nil, nil
		}
		return queue.OutcomeDeferred, nil, nil, nil, err
	}

	snapshot, err := e.server.Item(ctx, item.ItemKey)
	if err != nil {
		if errors.IsNotFound(err) {
			return queue.OutcomeGone, nil, nil, nil, nil
		}
		return queue.OutcomeDeferred, nil, nil, nil, err
	}

	now := time.Now()

	// Protection added after the match still wins before the buffer expires
	if onList, err := e.server.OnWatchlist(ctx, snapshot); err != nil {
		return queue.OutcomeDeferred, nil, nil, nil, errors.ExternalServiceError("mediaserver", "failed to check server watchlist", err)
	} else if onList {
		return queue.OutcomeProtected, nil, nil, nil, nil
	}

	evalCtx, err := e.builder.Build(ctx, snapshot, rule.TargetKind)
	if err != nil {
		return queue.OutcomeDeferred, nil, nil, nil, err
	}
	evalCtx.Now = now

	if evalCtx.OnWatchlist {
		return queue.OutcomeProtected, nil, nil, nil, nil
	}
	if evalCtx.WatchlistUnknown {
		return queue.OutcomeDeferred, nil, nil, nil, errors.DatabaseError("watchlist entries are unreadable", nil)
	}
	if excluded, _ := e.guard.Excluded(ctx, snapshot, now); excluded {
		return queue.OutcomeProtected, nil, nil, nil, nil
	}

	actions, err := rules.ParseActions(rule.Actions)
	if err != nil {
		return "", nil, nil, nil, errors.RuleEvaluationError("failed to parse actions", err)
	}

	if !rule.SmartMode {
		tree, err := rules.ParseConditions(rule.Conditions)
		if err != nil {
			return "", nil, nil, nil, errors.RuleEvaluationError("failed to parse conditions", err)
		}
		if !e.evaluator.Evaluate(tree, snapshot, evalCtx) {
			return queue.OutcomeStale, nil, nil, nil, nil
		}
	}

	return queue.OutcomeValid, rule, snapshot, actions, nil
}

// runDestructive executes the commit-phase actions in order. A failing
// action does not stop the remaining ones; the first failure is returned
// after every action has been attempted.
func (e *Engine) runDestructive(ctx context.Context, rule *models.Rule, item *mediaserver.Item, actions []rules.Action) error {
	_, commit := rules.SplitActions(actions)

	var firstErr error
	for _, action := range commit {
		err := e.runAction(ctx, rule, item, action)

		ruleID := rule.ID
		itemKey := item.Key
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.audit.Emit(ctx, audit.Event{
				Type:    audit.EventActionFailed,
				RuleID:  &ruleID,
				ItemKey: &itemKey,
				Message: fmt.Sprintf("%s failed for %q: %v", action.Type, item.Title, err),
			})
			continue
		}

		e.audit.Emit(ctx, audit.Event{
			Type:    audit.EventActionExecuted,
			RuleID:  &ruleID,
			ItemKey: &itemKey,
			Message: fmt.Sprintf("%s executed for %q", action.Type, item.Title),
		})
	}
	return firstErr
}

func (e *Engine) runAction(ctx context.Context, rule *models.Rule, item *mediaserver.Item, action rules.Action) error {
	switch action.Type {
	case rules.ActionRemoveFromLibrary:
		return e.removeFromLibrary(ctx, rule, item)
	case rules.ActionRemoveFromOrchestrator:
		return e.removeFromOrchestrator(ctx, item, false)
	case rules.ActionDeleteFiles:
		return e.deleteFiles(ctx, rule, item)
	case rules.ActionUnmonitor:
		return e.unmonitor(ctx, item)
	case rules.ActionTag:
		label := action.Params["label"]
		if label == "" {
			label = "flexerr"
		}
		return e.server.AddLabel(ctx, item.Key, label)
	default:
		return errors.ActionExecutionError(fmt.Sprintf("action %q is not executable in the commit phase", action.Type), nil)
	}
}

func (e *Engine) removeFromLibrary(ctx context.Context, rule *models.Rule, item *mediaserver.Item) error {
	if err := e.server.DeleteItem(ctx, item.Key); err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}

	ruleID := rule.ID
	itemKey := item.Key
	e.audit.Emit(ctx, audit.Event{
		Type:           audit.EventItemDeleted,
		RuleID:         &ruleID,
		ItemKey:        &itemKey,
		Message:        fmt.Sprintf("deleted %q from the library", item.Title),
		BytesReclaimed: item.FileSize,
	})
	return nil
}

func (e *Engine) removeFromOrchestrator(ctx context.Context, item *mediaserver.Item, deleteFiles bool) error {
	record, isMovie := e.resolveRecord(ctx, item)
	if record == nil {
		// Stale or absent link: the next pass can re-resolve it
		e.logger.WithFields(map[string]interface{}{
			"item": item.Key,
		}).Debug("no orchestrator record to remove")
		return nil
	}

	if isMovie {
		return ignoreNotFound(e.orch.DeleteMovie(ctx, record.ID, deleteFiles))
	}
	return ignoreNotFound(e.orch.DeleteSeries(ctx, record.ID, deleteFiles))
}

func (e *Engine) deleteFiles(ctx context.Context, rule *models.Rule, item *mediaserver.Item) error {
	record, isMovie := e.resolveRecord(ctx, item)
	if record == nil {
		e.logger.WithFields(map[string]interface{}{
			"item": item.Key,
		}).Debug("no orchestrator record for file deletion")
		return nil
	}

	var err error
	if isMovie {
		err = e.orch.DeleteMovie(ctx, record.ID, true)
	} else {
		err = e.orch.DeleteSeries(ctx, record.ID, true)
	}
	if err := ignoreNotFound(err); err != nil {
		return err
	}

	ruleID := rule.ID
	itemKey := item.Key
	e.audit.Emit(ctx, audit.Event{
		Type:           audit.EventItemDeleted,
		RuleID:         &ruleID,
		ItemKey:        &itemKey,
		Message:        fmt.Sprintf("deleted %q with files through the orchestrator", item.Title),
		BytesReclaimed: record.SizeOnDisk,
	})
	return nil
}

func (e *Engine) unmonitor(ctx context.Context, item *mediaserver.Item) error {
	record, isMovie := e.resolveRecord(ctx, item)
	if record == nil {
		return nil
	}
	if isMovie {
		return ignoreNotFound(e.orch.UnmonitorMovie(ctx, record.ID))
	}
	return ignoreNotFound(e.orch.UnmonitorSeries(ctx, record.ID))
}

// resolveRecord finds the orchestrator record behind an item. Episodes and
// seasons resolve through their show's identifiers.
func (e *Engine) resolveRecord(ctx context.Context, item *mediaserver.Item) (*orchestrator.Record, bool) {
	if e.orch == nil {
		return nil, false
	}

	if item.Kind == models.MediaKindMovies {
		if item.IDs.TMDB == 0 {
			return nil, true
		}
		record, err := e.orch.FindMovie(ctx, item.IDs.TMDB)
		if err != nil {
			if !errors.IsNotFound(err) {
				e.logger.Error("orchestrator movie lookup failed", err)
			}
			return nil, true
		}
		return record, true
	}

	tvdb := item.IDs.TVDB
	if tvdb == 0 && item.ShowKey != "" && item.ShowKey != item.Key {
		if show, err := e.server.Item(ctx, item.ShowKey); err == nil {
			tvdb = show.IDs.TVDB
		}
	}
	if tvdb == 0 {
		return nil, false
	}

	record, err := e.orch.FindSeries(ctx, tvdb)
	if err != nil {
		if !errors.IsNotFound(err) {
			e.logger.Error("orchestrator series lookup failed", err)
		}
		return nil, false
	}
	return record, false
}

// A not-found from the orchestrator during a destructive action means the
// link was already stale; recoverable, not fatal
func ignoreNotFound(err error) error {
	if err == nil || errors.IsNotFound(err) {
		return nil
	}
	return err
}
