package velocity

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
	"github.com/sybethiesant/flexerr/internal/models"
)

// Params controls the per-show protection analysis
type Params struct {
	MinDaysSinceWatch      int
	VelocityBufferDays     int
	ProtectEpisodesAhead   int
	ActiveViewerDays       int
	RequireAllUsersWatched bool
	ProactiveRedownload    bool
	RedownloadLeadDays     int
}

// ParamsFrom maps a rule's stored smart parameters to analysis parameters
func ParamsFrom(sp models.SmartParams) Params {
	return Params{
		MinDaysSinceWatch:      sp.MinDaysSinceWatch,
		VelocityBufferDays:     sp.VelocityBufferDays,
		ProtectEpisodesAhead:   sp.ProtectEpisodesAhead,
		ActiveViewerDays:       sp.ActiveViewerDays,
		RequireAllUsersWatched: sp.RequireAllUsersWatched,
		ProactiveRedownload:    sp.ProactiveRedownload,
		RedownloadLeadDays:     sp.RedownloadLeadDays,
	}
}

// Episode is one entry in a show's flattened episode list. AbsoluteIndex is
// 1-based in airing order; specials sort after regular seasons.
type Episode struct {
	Key           string
	AbsoluteIndex int
	Season        int
	Episode       int
	LastViewedAt  *time.Time
	ViewCount     int

	// Missing marks an episode known to the orchestrator but absent from
	// the library, eligible for proactive redownload
	Missing bool
}

// UserState is one viewer's computed position and pace for a show
type UserState struct {
	UserID string

	// Position is the highest absolute index reachable by a contiguous
	// watched run from episode 1, or the index of the most recently
	// watched episode when that is higher
	Position int

	EpisodesPerDay float64
	FirstWatched   time.Time
	LastWatched    time.Time

	watched map[int]time.Time
}

// WatchedEpisode reports whether the user has watched the given absolute index
func (u *UserState) WatchedEpisode(index int) bool {
	_, ok := u.watched[index]
	return ok
}

// Verdict is the per-episode outcome of an analysis pass
type Verdict struct {
	Episode          Episode
	Deletable        bool
	ProtectionReason string
	NeedsRedownload  bool
}

// Result is the full outcome for one show
type Result struct {
	ShowKey     string
	ActiveUsers []UserState
	Verdicts    []Verdict
}

// Candidates returns the deletable subset in episode order
func (r *Result) Candidates() []Verdict {
	var out []Verdict
	for _, v := range r.Verdicts {
		if v.Deletable {
			out = append(out, v)
		}
	}
	return out
}

// RedownloadRequests returns the episodes flagged for proactive redownload
func (r *Result) RedownloadRequests() []Verdict {
	var out []Verdict
	for _, v := range r.Verdicts {
		if v.NeedsRedownload {
			out = append(out, v)
		}
	}
	return out
}

// Analyzer decides, per episode, whether deletion is safe given every
// viewer's position and pace. Analysis is a pure function of its inputs;
// the analyzer itself holds no state between calls.
type Analyzer struct {
	logger *logger.Logger
}

// NewAnalyzer creates a velocity protection analyzer
func NewAnalyzer(log *logger.Logger) *Analyzer {
	if log == nil {
		log = logger.Default()
	}
	return &Analyzer{logger: log}
}

// BuildEpisodes flattens a show's children into an absolute-indexed episode
// list. Ordering is by season then episode number, specials last.
func BuildEpisodes(children []mediaserver.Item) []Episode {
	episodes := make([]Episode, 0, len(children))
	for i := range children {
		child := &children[i]
		episodes = append(episodes, Episode{
			Key:          child.Key,
			Season:       child.SeasonNumber,
			Episode:      child.EpisodeNumber,
			LastViewedAt: child.LastViewedAt,
			ViewCount:    child.ViewCount,
		})
	}

	sort.SliceStable(episodes, func(i, j int) bool {
		si, sj := seasonSortKey(episodes[i].Season), seasonSortKey(episodes[j].Season)
		if si != sj {
			return si < sj
		}
		return episodes[i].Episode < episodes[j].Episode
	})

	for i := range episodes {
		episodes[i].AbsoluteIndex = i + 1
	}
	return episodes
}

// EpisodeRef identifies an episode by season and number
type EpisodeRef struct {
	Season  int
	Episode int
}

// MergeMissing folds orchestrator-known episodes absent from the library
// into the episode list, re-sorting and re-indexing so absolute positions
// stay consistent across present and missing entries
func MergeMissing(episodes []Episode, missing []EpisodeRef) []Episode {
	present := make(map[[2]int]struct{}, len(episodes))
	for _, ep := range episodes {
		present[[2]int{ep.Season, ep.Episode}] = struct{}{}
	}

	merged := append([]Episode(nil), episodes...)
	for _, ref := range missing {
		if _, ok := present[[2]int{ref.Season, ref.Episode}]; ok {
			continue
		}
		merged = append(merged, Episode{
			Season:  ref.Season,
			Episode: ref.Episode,
			Missing: true,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		si, sj := seasonSortKey(merged[i].Season), seasonSortKey(merged[j].Season)
		if si != sj {
			return si < sj
		}
		return merged[i].Episode < merged[j].Episode
	})
	for i := range merged {
		merged[i].AbsoluteIndex = i + 1
	}
	return merged
}

// Specials (season 0) sort after every regular season
func seasonSortKey(season int) int {
	if season == 0 {
		return math.MaxInt32
	}
	return season
}

// Analyze computes per-episode deletion verdicts for one show
func (a *Analyzer) Analyze(showKey string, episodes []Episode, history []mediaserver.WatchEvent, params Params, now time.Time) *Result {
	result := &Result{ShowKey: showKey}

	indexByEpisode := make(map[[2]int]int, len(episodes))
	for _, ep := range episodes {
		indexByEpisode[[2]int{ep.Season, ep.Episode}] = ep.AbsoluteIndex
	}

	result.ActiveUsers = a.activeUsers(history, indexByEpisode, params, now)

	minPosition := 0
	for i, user := range result.ActiveUsers {
		if i == 0 || user.Position < minPosition {
			minPosition = user.Position
		}
	}

	result.Verdicts = make([]Verdict, 0, len(episodes))
	for _, ep := range episodes {
		verdict := a.judge(ep, result.ActiveUsers, minPosition, params, now)
		result.Verdicts = append(result.Verdicts, verdict)
	}

	return result
}

// activeUsers derives position and velocity for every viewer with history
// inside the active window
func (a *Analyzer) activeUsers(history []mediaserver.WatchEvent, indexByEpisode map[[2]int]int, params Params, now time.Time) []UserState {
	windowStart := now.AddDate(0, 0, -params.ActiveViewerDays)

	type userHistory struct {
		all    []mediaserver.WatchEvent
		window []mediaserver.WatchEvent
	}
	byUser := make(map[string]*userHistory)
	for _, event := range history {
		uh := byUser[event.UserID]
		if uh == nil {
			uh = &userHistory{}
			byUser[event.UserID] = uh
		}
		uh.all = append(uh.all, event)
		if !event.ViewedAt.Before(windowStart) {
			uh.window = append(uh.window, event)
		}
	}

	var users []UserState
	for userID, uh := range byUser {
		if len(uh.window) == 0 {
			continue
		}

		state := UserState{
			UserID:  userID,
			watched: make(map[int]time.Time),
		}

		// Watched set and last-watched pointer come from the full history;
		// the window only decides activeness and pace
		var lastIndex int
		var lastViewed time.Time
		for _, event := range uh.all {
			index, ok := indexByEpisode[[2]int{event.Season, event.Episode}]
			if !ok {
				continue
			}
			if prev, seen := state.watched[index]; !seen || event.ViewedAt.After(prev) {
				state.watched[index] = event.ViewedAt
			}
			if event.ViewedAt.After(lastViewed) {
				lastViewed = event.ViewedAt
				lastIndex = index
			}
		}

		run := 0
		for {
			if _, ok := state.watched[run+1]; !ok {
				break
			}
			run++
		}
		state.Position = run
		if lastIndex > state.Position {
			state.Position = lastIndex
		}

		state.FirstWatched, state.LastWatched = eventSpan(uh.window)
		state.EpisodesPerDay = computeVelocity(uh.window, state.FirstWatched, state.LastWatched)

		users = append(users, state)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

func eventSpan(events []mediaserver.WatchEvent) (first, last time.Time) {
	for _, event := range events {
		if first.IsZero() || event.ViewedAt.Before(first) {
			first = event.ViewedAt
		}
		if event.ViewedAt.After(last) {
			last = event.ViewedAt
		}
	}
	return first, last
}

// computeVelocity derives episodes per day from the windowed span. A single
// sitting gives no usable span, so it defaults to one episode per day.
func computeVelocity(events []mediaserver.WatchEvent, first, last time.Time) float64 {
	distinct := make(map[[2]int]struct{}, len(events))
	for _, event := range events {
		distinct[[2]int{event.Season, event.Episode}] = struct{}{}
	}

	spanDays := last.Sub(first).Hours() / 24
	if len(distinct) <= 1 || spanDays <= 0 {
		return 1.0
	}
	return float64(len(distinct)) / spanDays
}

// judge applies the candidacy rules to one episode
func (a *Analyzer) judge(ep Episode, users []UserState, minPosition int, params Params, now time.Time) Verdict {
	verdict := Verdict{Episode: ep}

	if params.ProactiveRedownload && ep.Missing {
		verdict.NeedsRedownload = approachingWithin(ep.AbsoluteIndex, users, params.RedownloadLeadDays)
	}

	if ep.LastViewedAt == nil && ep.ViewCount == 0 {
		verdict.ProtectionReason = "never watched"
		return verdict
	}

	if ep.LastViewedAt != nil {
		daysSince := now.Sub(*ep.LastViewedAt).Hours() / 24
		if daysSince < float64(params.MinDaysSinceWatch) {
			verdict.ProtectionReason = fmt.Sprintf("watched %.0f days ago, below the %d day minimum", daysSince, params.MinDaysSinceWatch)
			return verdict
		}
	}

	// No active viewers leaves nothing to protect for
	if len(users) == 0 {
		verdict.Deletable = true
		return verdict
	}

	if params.RequireAllUsersWatched {
		for i := range users {
			if !users[i].WatchedEpisode(ep.AbsoluteIndex) {
				verdict.ProtectionReason = fmt.Sprintf("not yet watched by %s", users[i].UserID)
				return verdict
			}
		}
	}

	if ep.AbsoluteIndex >= minPosition {
		slowest := slowestUserAt(users, minPosition)
		buffer := protectionBuffer(users, params)
		if ep.AbsoluteIndex <= minPosition+buffer {
			verdict.ProtectionReason = fmt.Sprintf("within %d episode protection buffer ahead of %s (position %d)", buffer, slowest.UserID, slowest.Position)
		} else {
			verdict.ProtectionReason = fmt.Sprintf("ahead of %s (position %d)", slowest.UserID, slowest.Position)
		}
		return verdict
	}

	for i := range users {
		user := &users[i]
		days, ok := daysToReach(ep.AbsoluteIndex, user)
		if ok && days <= float64(params.VelocityBufferDays) {
			verdict.ProtectionReason = fmt.Sprintf("%s approaching at %.1f episodes/day", user.UserID, user.EpisodesPerDay)
			return verdict
		}
	}

	verdict.Deletable = true
	return verdict
}

// protectionBuffer sizes the protected range ahead of the slowest viewer:
// at least the fixed floor, widened to cover what the fastest active pace
// would reach inside the buffer window. The maximum runs over every active
// user, not just the one at the slowest position.
func protectionBuffer(users []UserState, params Params) int {
	buffer := params.ProtectEpisodesAhead
	for i := range users {
		if users[i].EpisodesPerDay <= 0 {
			continue
		}
		projected := int(math.Ceil(users[i].EpisodesPerDay * float64(params.VelocityBufferDays)))
		if projected > buffer {
			buffer = projected
		}
	}
	return buffer
}

func slowestUserAt(users []UserState, position int) *UserState {
	for i := range users {
		if users[i].Position == position {
			return &users[i]
		}
	}
	if len(users) == 0 {
		return nil
	}
	return &users[0]
}

// daysToReach projects when a user arrives at an episode. Velocity at or
// below zero means no projection is possible.
func daysToReach(index int, user *UserState) (float64, bool) {
	if user.EpisodesPerDay <= 0 {
		return 0, false
	}
	days := float64(index-user.Position) / user.EpisodesPerDay
	if days < 0 {
		return 0, false
	}
	return days, true
}

func approachingWithin(index int, users []UserState, leadDays int) bool {
	for i := range users {
		days, ok := daysToReach(index, &users[i])
		if ok && days <= float64(leadDays) {
			return true
		}
	}
	return false
}

// Snapshot converts the computed user states into persistable velocity
// records for observability
func (r *Result) Snapshot(episodes []Episode, now time.Time) []models.VelocityRecord {
	byIndex := make(map[int]Episode, len(episodes))
	for _, ep := range episodes {
		byIndex[ep.AbsoluteIndex] = ep
	}

	records := make([]models.VelocityRecord, 0, len(r.ActiveUsers))
	for _, user := range r.ActiveUsers {
		record := models.VelocityRecord{
			UserID:           user.UserID,
			ShowKey:          r.ShowKey,
			AbsolutePosition: user.Position,
			EpisodesPerDay:   user.EpisodesPerDay,
			LastWatchedAt:    user.LastWatched,
			UpdatedAt:        now,
		}
		if ep, ok := byIndex[user.Position]; ok {
			record.Season = ep.Season
			record.Episode = ep.Episode
		}
		records = append(records, record)
	}
	return records
}
