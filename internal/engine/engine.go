// Package engine orchestrates rule evaluation: rule retrieval, library
// iteration, context building, exclusion checks, condition evaluation or
// velocity analysis, and action dispatch into the deferred queue.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sybethiesant/flexerr/internal/audit"
	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
	"github.com/sybethiesant/flexerr/internal/models"
	"github.com/sybethiesant/flexerr/internal/orchestrator"
	"github.com/sybethiesant/flexerr/internal/queue"
	"github.com/sybethiesant/flexerr/internal/rules"
	"github.com/sybethiesant/flexerr/internal/velocity"
)

// RuleRepo is the rule persistence contract the engine consumes
type RuleRepo interface {
	ListActive(ctx context.Context) ([]models.Rule, error)
	Get(ctx context.Context, id uint) (*models.Rule, error)
	RecordRun(ctx context.Context, id uint, matches int) error
}

// VelocitySink receives computed per-user watch positions for observability
type VelocitySink interface {
	Replace(ctx context.Context, records []models.VelocityRecord) error
}

// Deps collects the engine's collaborators
type Deps struct {
	Rules        RuleRepo
	Server       mediaserver.Adapter
	Orchestrator orchestrator.Adapter
	Watchlist    rules.WatchlistStore
	Exclusions   rules.ExclusionStore
	Velocities   VelocitySink
	Queue        *queue.Store
	Audit        audit.Sink
	Logger       *logger.Logger

	// APICallDelay is the pause between per-item external calls during
	// bulk passes, protecting rate-limited collaborators
	APICallDelay time.Duration
}

// Engine evaluates rules against media libraries and feeds the deferred
// action queue. Evaluation passes are strictly sequential; the scheduler
// guarantees only one pass is in flight at a time.
type Engine struct {
	rules      RuleRepo
	server     mediaserver.Adapter
	orch       orchestrator.Adapter
	builder    *rules.ContextBuilder
	evaluator  *rules.Evaluator
	guard      *rules.ExclusionGuard
	analyzer   *velocity.Analyzer
	velocities VelocitySink
	queue      *queue.Store
	audit      audit.Sink
	logger     *logger.Logger
	delay      time.Duration
}

// New creates a rule engine from its collaborators
func New(deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	sink := deps.Audit
	if sink == nil {
		sink = audit.NewLogSink(log)
	}

	return &Engine{
		rules:      deps.Rules,
		server:     deps.Server,
		orch:       deps.Orchestrator,
		builder:    rules.NewContextBuilder(deps.Server, deps.Orchestrator, deps.Watchlist, log),
		evaluator:  rules.NewEvaluator(log),
		guard:      rules.NewExclusionGuard(deps.Exclusions, log),
		analyzer:   velocity.NewAnalyzer(log),
		velocities: deps.Velocities,
		queue:      deps.Queue,
		audit:      sink,
		logger:     log,
		delay:      deps.APICallDelay,
	}
}

// Match is one item a rule matched during an evaluation pass
type Match struct {
	RuleID    uint
	Item      mediaserver.Item
	QueueItem *models.QueueItem
	// Inserted is true only when this match created the queue entry.
	// Re-matching an item with a live pending entry sets QueueItem but
	// not Inserted.
	Inserted bool
	Reason   string
}

// RuleResult summarizes one rule's evaluation within a pass
type RuleResult struct {
	RuleID       uint   `json:"rule_id"`
	RuleName     string `json:"rule_name"`
	Matches      int    `json:"matches"`
	QueueInserts int    `json:"queue_inserts"`
	Error        string `json:"error,omitempty"`
}

// Summary is the outcome of a full evaluation pass. Partial failure is
// surfaced per rule, never hidden behind an all-or-nothing result.
type Summary struct {
	DryRun               bool         `json:"dry_run"`
	StartedAt            time.Time    `json:"started_at"`
	FinishedAt           time.Time    `json:"finished_at"`
	RulesRun             int          `json:"rules_run"`
	RulesFailed          int          `json:"rules_failed"`
	TotalMatches         int          `json:"total_matches"`
	QueueInserts         int          `json:"queue_inserts"`
	RedownloadsRequested int          `json:"redownloads_requested"`
	Results              []RuleResult `json:"results"`
}

// RunAllRules evaluates every active rule sequentially. A rule that fails
// is recorded and skipped; it never prevents later rules from running.
func (e *Engine) RunAllRules(ctx context.Context, dryRun bool) *Summary {
	summary := &Summary{DryRun: dryRun, StartedAt: time.Now()}
	defer func() { summary.FinishedAt = time.Now() }()

	if dryRun {
		// Previous previews are superseded by this pass
		if err := e.queue.DeleteDryRuns(ctx); err != nil {
			e.logger.Error("failed to clear previous dry-run previews", err)
		}
	}

	active, err := e.rules.ListActive(ctx)
	if err != nil {
		e.logger.Error("failed to list active rules", err)
		return summary
	}

	for i := range active {
		rule := &active[i]
		summary.RulesRun++

		result := RuleResult{RuleID: rule.ID, RuleName: rule.Name}
		matches, evalErr := e.EvaluateRule(ctx, rule, dryRun, summary)
		if evalErr != nil {
			summary.RulesFailed++
			result.Error = evalErr.Error()
			ruleID := rule.ID
			e.audit.Emit(ctx, audit.Event{
				Type:    audit.EventRuleFailed,
				RuleID:  &ruleID,
				Message: fmt.Sprintf("rule %q failed: %v", rule.Name, evalErr),
			})
		}

		result.Matches = len(matches)
		for _, match := range matches {
			if match.Inserted {
				result.QueueInserts++
			}
		}
		summary.TotalMatches += result.Matches
		summary.QueueInserts += result.QueueInserts
		summary.Results = append(summary.Results, result)

		// Run statistics update even for failed evaluations so rules that
		// silently stop matching stay visible to operators
		if err := e.rules.RecordRun(ctx, rule.ID, len(matches)); err != nil {
			e.logger.Error("failed to record rule run", err)
		}
	}

	return summary
}

// EvaluateRule evaluates one rule and dispatches its preview-phase actions.
// The summary argument accumulates pass-wide counters and may be nil.
func (e *Engine) EvaluateRule(ctx context.Context, rule *models.Rule, dryRun bool, summary *Summary) ([]Match, error) {
	if !rule.TargetKind.Valid() {
		return nil, errors.RuleEvaluationError(fmt.Sprintf("unknown target kind %q", rule.TargetKind), nil)
	}
	// The media server enumerates leaf episodes, never seasons, so a
	// season-scoped rule only makes sense through the smart analyzer.
	if !rule.SmartMode && rule.TargetKind == models.MediaKindSeasons {
		return nil, errors.RuleEvaluationError("seasons rules require smart mode", nil)
	}

	tree, err := rules.ParseConditions(rule.Conditions)
	if err != nil {
		return nil, errors.RuleEvaluationError("failed to parse conditions", err)
	}
	actions, err := rules.ParseActions(rule.Actions)
	if err != nil {
		return nil, errors.RuleEvaluationError("failed to parse actions", err)
	}

	libs, err := e.targetLibraries(ctx, rule)
	if err != nil {
		return nil, err
	}

	if rule.SmartMode && rule.TargetKind != models.MediaKindMovies {
		return e.evaluateSmart(ctx, rule, tree, actions, libs, dryRun, summary)
	}
	return e.evaluateStandard(ctx, rule, tree, actions, libs, dryRun)
}

// targetLibraries lists the libraries a rule applies to, honoring its
// optional library filter
func (e *Engine) targetLibraries(ctx context.Context, rule *models.Rule) ([]mediaserver.Library, error) {
	libs, err := e.server.Libraries(ctx)
	if err != nil {
		return nil, errors.RuleEvaluationError("failed to list libraries", err)
	}

	wantKind := models.MediaKindShows
	if rule.TargetKind == models.MediaKindMovies {
		wantKind = models.MediaKindMovies
	}

	filter, err := parseLibraryFilter(rule.LibraryIDs)
	if err != nil {
		return nil, errors.RuleEvaluationError("failed to parse library filter", err)
	}

	var out []mediaserver.Library
	for _, lib := range libs {
		if lib.Kind != wantKind {
			continue
		}
		if filter != nil {
			if _, ok := filter[lib.ID]; !ok {
				continue
			}
		}
		out = append(out, lib)
	}
	return out, nil
}

func parseLibraryFilter(raw *string) (map[string]struct{}, error) {
	if raw == nil || *raw == "" || *raw == "null" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(*raw), &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	filter := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		filter[id] = struct{}{}
	}
	return filter, nil
}

func (e *Engine) evaluateStandard(ctx context.Context, rule *models.Rule, tree *rules.ConditionNode, actions []rules.Action, libs []mediaserver.Library, dryRun bool) ([]Match, error) {
	var matches []Match

	for _, lib := range libs {
		items, err := e.server.LibraryItems(ctx, lib.ID)
		if err != nil {
			// One unreadable library does not end the pass
			e.logger.WithFields(map[string]interface{}{
				"library": lib.ID,
			}).Error("failed to list library items", err)
			continue
		}

		for i := range items {
			item := &items[i]

			targets := []mediaserver.Item{*item}
			if rule.TargetKind == models.MediaKindEpisodes {
				children, err := e.server.Children(ctx, item.Key)
				if err != nil {
					e.logger.WithFields(map[string]interface{}{
						"item": item.Key,
					}).Error("failed to list episodes", err)
					continue
				}
				targets = children
			}

			for j := range targets {
				if match := e.evaluateItem(ctx, rule, tree, actions, &targets[j], dryRun); match != nil {
					matches = append(matches, *match)
				}
			}

			e.pause(ctx)
		}
	}

	return matches, nil
}

// evaluateItem runs the full per-item pipeline: context, exclusions,
// conditions, then preview dispatch. Failures are contained to the item.
func (e *Engine) evaluateItem(ctx context.Context, rule *models.Rule, tree *rules.ConditionNode, actions []rules.Action, item *mediaserver.Item, dryRun bool) *Match {
	now := time.Now()

	evalCtx, err := e.builder.Build(ctx, item, rule.TargetKind)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"item": item.Key,
		}).Error("failed to build evaluation context", err)
		return nil
	}
	evalCtx.Now = now

	if excluded, entry := e.guard.Excluded(ctx, item, now); excluded {
		fields := map[string]interface{}{"item": item.Key}
		if entry != nil {
			fields["exclusion"] = string(entry.Kind)
		}
		e.logger.WithFields(fields).Debug("item is excluded from rule processing")
		return nil
	}

	if !e.evaluator.Evaluate(tree, item, evalCtx) {
		return nil
	}

	match := &Match{RuleID: rule.ID, Item: *item, Reason: "conditions matched"}
	match.QueueItem, match.Inserted = e.preview(ctx, rule, item, actions, dryRun)
	return match
}

// preview dispatches the non-destructive phase of a match: queue insertion
// behind the rule's buffer window. Destructive actions wait for the queue
// processor. The second return reports whether a new entry was created,
// as opposed to finding a live pending one.
func (e *Engine) preview(ctx context.Context, rule *models.Rule, item *mediaserver.Item, actions []rules.Action, dryRun bool) (*models.QueueItem, bool) {
	enqueue := false
	for _, action := range actions {
		if action.Type == rules.ActionAddToQueue {
			enqueue = true
			break
		}
	}
	if !enqueue {
		return nil, false
	}

	queueItem := &models.QueueItem{
		RuleID:    rule.ID,
		ItemKey:   item.Key,
		ItemTitle: item.Title,
		MediaKind: item.Kind,
		ActionAt:  time.Now().AddDate(0, 0, rule.BufferDays),
		IsDryRun:  dryRun,
	}

	stored, inserted, err := e.queue.Insert(ctx, queueItem)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"item": item.Key,
			"rule": rule.ID,
		}).Error("failed to insert queue item", err)
		return nil, false
	}

	if inserted {
		ruleID := rule.ID
		itemKey := item.Key
		e.audit.Emit(ctx, audit.Event{
			Type:    audit.EventQueueInserted,
			RuleID:  &ruleID,
			ItemKey: &itemKey,
			Message: fmt.Sprintf("queued %q until %s", item.Title, stored.ActionAt.Format(time.RFC3339)),
			Details: map[string]interface{}{"dry_run": dryRun},
		})
	}
	return stored, inserted
}

// pause inserts the configured inter-call delay, abandoned early when the
// pass context ends
func (e *Engine) pause(ctx context.Context) {
	if e.delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.delay):
	}
}
