package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sybethiesant/flexerr/internal/audit"
	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
	"github.com/sybethiesant/flexerr/internal/models"
	"github.com/sybethiesant/flexerr/internal/orchestrator"
	"github.com/sybethiesant/flexerr/internal/rules"
	"github.com/sybethiesant/flexerr/internal/velocity"
)

// evaluateSmart runs velocity-aware per-episode analysis over every show in
// the rule's libraries. The analyzer is a pre-filter: its deletion
// candidates still pass through the rule's own conditions before matching.
func (e *Engine) evaluateSmart(ctx context.Context, rule *models.Rule, tree *rules.ConditionNode, actions []rules.Action, libs []mediaserver.Library, dryRun bool, summary *Summary) ([]Match, error) {
	params, err := parseSmartParams(rule.SmartParams)
	if err != nil {
		return nil, errors.RuleEvaluationError("failed to parse smart parameters", err)
	}

	var matches []Match
	for _, lib := range libs {
		shows, err := e.server.LibraryItems(ctx, lib.ID)
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"library": lib.ID,
			}).Error("failed to list library items", err)
			continue
		}

		for i := range shows {
			showMatches := e.analyzeShow(ctx, rule, tree, actions, &shows[i], params, dryRun, summary)
			matches = append(matches, showMatches...)
			e.pause(ctx)
		}
	}
	return matches, nil
}

// analyzeShow runs the protection analysis for one show and dispatches its
// candidate episodes. Failures are contained to the show.
func (e *Engine) analyzeShow(ctx context.Context, rule *models.Rule, tree *rules.ConditionNode, actions []rules.Action, show *mediaserver.Item, params models.SmartParams, dryRun bool, summary *Summary) []Match {
	now := time.Now()

	children, err := e.server.Children(ctx, show.Key)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"show": show.Key,
		}).Error("failed to list show episodes", err)
		return nil
	}

	episodes := velocity.BuildEpisodes(children)
	byKey := make(map[string]*mediaserver.Item, len(children))
	for i := range children {
		byKey[children[i].Key] = &children[i]
	}

	record := e.seriesRecord(ctx, show)
	if params.ProactiveRedownload && record != nil {
		if refs, err := e.orch.MissingEpisodes(ctx, record.ID); err == nil {
			missing := make([]velocity.EpisodeRef, 0, len(refs))
			for _, ref := range refs {
				missing = append(missing, velocity.EpisodeRef{Season: ref.Season, Episode: ref.Episode})
			}
			episodes = velocity.MergeMissing(episodes, missing)
		} else if !errors.IsNotFound(err) {
			e.logger.WithFields(map[string]interface{}{
				"show": show.Key,
			}).Error("failed to list missing episodes", err)
		}
	}

	history, err := e.server.WatchHistory(ctx, show.Key, time.Time{})
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"show": show.Key,
		}).Error("failed to fetch watch history", err)
		return nil
	}

	result := e.analyzer.Analyze(show.Key, episodes, history, velocity.ParamsFrom(params), now)

	if e.velocities != nil {
		if err := e.velocities.Replace(ctx, result.Snapshot(episodes, now)); err != nil {
			e.logger.Error("failed to persist velocity records", err)
		}
	}

	var matches []Match
	for _, verdict := range result.Candidates() {
		item, ok := byKey[verdict.Episode.Key]
		if !ok {
			continue
		}
		if match := e.evaluateItem(ctx, rule, tree, actions, item, dryRun); match != nil {
			match.Reason = "velocity analysis: " + deletionReason(verdict, result)
			matches = append(matches, *match)
		}
	}

	e.requestRedownloads(ctx, rule, show, record, result, dryRun, summary)
	return matches
}

func deletionReason(verdict velocity.Verdict, result *velocity.Result) string {
	if len(result.ActiveUsers) == 0 {
		return "no active viewers"
	}
	return fmt.Sprintf("behind all %d active viewers", len(result.ActiveUsers))
}

// requestRedownloads triggers monitor+search for missing episodes a viewer
// is projected to reach soon
func (e *Engine) requestRedownloads(ctx context.Context, rule *models.Rule, show *mediaserver.Item, record *orchestrator.Record, result *velocity.Result, dryRun bool, summary *Summary) {
	requests := result.RedownloadRequests()
	if len(requests) == 0 || record == nil {
		return
	}

	for _, verdict := range requests {
		if !dryRun {
			err := e.orch.MonitorAndSearchEpisode(ctx, record.ID, verdict.Episode.Season, verdict.Episode.Episode)
			if err != nil {
				e.logger.WithFields(map[string]interface{}{
					"show":    show.Key,
					"season":  verdict.Episode.Season,
					"episode": verdict.Episode.Episode,
				}).Error("failed to request episode redownload", err)
				continue
			}
		}

		ruleID := rule.ID
		showKey := show.Key
		e.audit.Emit(ctx, audit.Event{
			Type:    audit.EventRedownloadRequested,
			RuleID:  &ruleID,
			ItemKey: &showKey,
			Message: fmt.Sprintf("requested S%02dE%02d of %q ahead of an approaching viewer", verdict.Episode.Season, verdict.Episode.Episode, show.Title),
			Details: map[string]interface{}{"dry_run": dryRun},
		})
		if summary != nil {
			summary.RedownloadsRequested++
		}
	}
}

// seriesRecord resolves the orchestrator series link for a show, nil when
// unlinked or the orchestrator is unavailable
func (e *Engine) seriesRecord(ctx context.Context, show *mediaserver.Item) *orchestrator.Record {
	if e.orch == nil || show.IDs.TVDB == 0 {
		return nil
	}
	record, err := e.orch.FindSeries(ctx, show.IDs.TVDB)
	if err != nil {
		if !errors.IsNotFound(err) {
			e.logger.WithFields(map[string]interface{}{
				"show": show.Key,
			}).Error("orchestrator series lookup failed", err)
		}
		return nil
	}
	return record
}

func parseSmartParams(raw *string) (models.SmartParams, error) {
	params := models.DefaultSmartParams()
	if raw == nil || *raw == "" || *raw == "null" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(*raw), &params); err != nil {
		return params, err
	}
	return params, nil
}
