package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
	"github.com/sybethiesant/flexerr/internal/models"
	"github.com/sybethiesant/flexerr/internal/orchestrator"
	"github.com/sybethiesant/flexerr/internal/queue"
	"github.com/sybethiesant/flexerr/internal/store"
	apptest "github.com/sybethiesant/flexerr/internal/testing"
)

// fakeServer is an in-memory media server backend
type fakeServer struct {
	libraries []mediaserver.Library
	items     map[string][]mediaserver.Item // by library ID
	children  map[string][]mediaserver.Item // by parent key
	history      map[string][]mediaserver.WatchEvent
	watchlist    map[string]bool // server-side watchlist by item key
	watchlistErr error

	deleted []string
	labels  map[string]string
}

func (f *fakeServer) Libraries(ctx context.Context) ([]mediaserver.Library, error) {
	return f.libraries, nil
}

func (f *fakeServer) LibraryItems(ctx context.Context, libraryID string) ([]mediaserver.Item, error) {
	return f.items[libraryID], nil
}

func (f *fakeServer) Item(ctx context.Context, key string) (*mediaserver.Item, error) {
	for _, items := range f.items {
		for i := range items {
			if items[i].Key == key {
				return &items[i], nil
			}
		}
	}
	for _, children := range f.children {
		for i := range children {
			if children[i].Key == key {
				return &children[i], nil
			}
		}
	}
	return nil, errors.NotFoundError("item", key)
}

func (f *fakeServer) Children(ctx context.Context, key string) ([]mediaserver.Item, error) {
	return f.children[key], nil
}

func (f *fakeServer) WatchHistory(ctx context.Context, showKey string, since time.Time) ([]mediaserver.WatchEvent, error) {
	return f.history[showKey], nil
}

func (f *fakeServer) DeleteItem(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeServer) OnWatchlist(ctx context.Context, item *mediaserver.Item) (bool, error) {
	if f.watchlistErr != nil {
		return false, f.watchlistErr
	}
	return f.watchlist[item.Key], nil
}

func (f *fakeServer) AddLabel(ctx context.Context, key, label string) error {
	if f.labels == nil {
		f.labels = make(map[string]string)
	}
	f.labels[key] = label
	return nil
}

// fakeOrch is an in-memory orchestrator backend
type fakeOrch struct {
	movies  map[int]*orchestrator.Record
	series  map[int]*orchestrator.Record
	missing map[int][]orchestrator.EpisodeRef

	deletedMovies []int
	deletedSeries []int
	searched      []orchestrator.EpisodeRef
	unmonitored   []int
}

func (f *fakeOrch) FindMovie(ctx context.Context, tmdbID int) (*orchestrator.Record, error) {
	if rec, ok := f.movies[tmdbID]; ok {
		return rec, nil
	}
	return nil, errors.NotFoundError("movie", "")
}

func (f *fakeOrch) FindSeries(ctx context.Context, tvdbID int) (*orchestrator.Record, error) {
	if rec, ok := f.series[tvdbID]; ok {
		return rec, nil
	}
	return nil, errors.NotFoundError("series", "")
}

func (f *fakeOrch) DeleteMovie(ctx context.Context, id int, deleteFiles bool) error {
	f.deletedMovies = append(f.deletedMovies, id)
	return nil
}

func (f *fakeOrch) DeleteSeries(ctx context.Context, id int, deleteFiles bool) error {
	f.deletedSeries = append(f.deletedSeries, id)
	return nil
}

func (f *fakeOrch) MonitorAndSearchEpisode(ctx context.Context, seriesID, season, episode int) error {
	f.searched = append(f.searched, orchestrator.EpisodeRef{Season: season, Episode: episode})
	return nil
}

func (f *fakeOrch) MissingEpisodes(ctx context.Context, seriesID int) ([]orchestrator.EpisodeRef, error) {
	return f.missing[seriesID], nil
}

func (f *fakeOrch) UnmonitorMovie(ctx context.Context, id int) error {
	f.unmonitored = append(f.unmonitored, id)
	return nil
}

func (f *fakeOrch) UnmonitorSeries(ctx context.Context, id int) error {
	f.unmonitored = append(f.unmonitored, id)
	return nil
}

func movieItem(key, title string, lastViewedDaysAgo int) mediaserver.Item {
	item := mediaserver.Item{
		Key:       key,
		LibraryID: "1",
		Kind:      models.MediaKindMovies,
		Title:     title,
		Year:      2020,
		AddedAt:   time.Now().AddDate(0, 0, -200),
		FileSize:  2 * 1024 * 1024 * 1024,
	}
	if lastViewedDaysAgo >= 0 {
		watched := time.Now().AddDate(0, 0, -lastViewedDaysAgo)
		item.LastViewedAt = &watched
		item.ViewCount = 1
	}
	return item
}

func movieServer(items ...mediaserver.Item) *fakeServer {
	return &fakeServer{
		libraries: []mediaserver.Library{{ID: "1", Title: "Movies", Kind: models.MediaKindMovies}},
		items:     map[string][]mediaserver.Item{"1": items},
		watchlist: map[string]bool{},
	}
}

func newTestEngine(t *testing.T, db *gorm.DB, server mediaserver.Adapter, orch orchestrator.Adapter) *Engine {
	t.Helper()
	return New(Deps{
		Rules:        store.NewRules(db),
		Server:       server,
		Orchestrator: orch,
		Watchlist:    store.NewWatchlist(db),
		Exclusions:   store.NewExclusions(db),
		Velocities:   store.NewVelocity(db),
		Queue:        queue.NewStore(db),
	})
}

func agingRule(db *gorm.DB, overrides ...func(*models.Rule)) *models.Rule {
	base := func(r *models.Rule) {
		r.Name = "old movies"
		r.TargetKind = models.MediaKindMovies
		r.BufferDays = 7
		r.Conditions = jsonPtr(`{"field":"days_since_watched","operator":"greater_than","value":30}`)
		r.Actions = jsonPtr(`[{"type":"add_to_queue"},{"type":"remove_from_library"}]`)
	}
	return apptest.CreateRule(db, append([]func(*models.Rule){base}, overrides...)...)
}

func jsonPtr(s string) *string {
	return &s
}

func TestRunAllRulesQueuesMatches(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(
		movieItem("movie-old", "Old Movie", 60),
		movieItem("movie-fresh", "Fresh Movie", 5),
		movieItem("movie-unwatched", "Unwatched Movie", -1),
	)
	eng := newTestEngine(t, db, server, &fakeOrch{})
	rule := agingRule(db)

	summary := eng.RunAllRules(context.Background(), false)

	assert.Equal(t, 1, summary.RulesRun)
	assert.Equal(t, 0, summary.RulesFailed)
	// The stale movie and the never-watched one match; the fresh one does not
	assert.Equal(t, 2, summary.TotalMatches)
	assert.Equal(t, 2, summary.QueueInserts)

	pending, err := queue.NewStore(db).Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)

	for _, item := range pending {
		assert.Equal(t, rule.ID, item.RuleID)
		assert.False(t, item.IsDryRun)
		assert.WithinDuration(t, time.Now().AddDate(0, 0, 7), item.ActionAt, time.Minute)
	}

	// Run statistics recorded against the rule
	stored, err := store.NewRules(db).Get(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastRun)
	assert.Equal(t, 2, stored.LastRunMatches)
}

func TestRunAllRulesDryRun(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(movieItem("movie-old", "Old Movie", 60))
	eng := newTestEngine(t, db, server, &fakeOrch{})
	rule := agingRule(db)

	// A leftover preview from an earlier pass is superseded
	apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "previously-matched"
		i.IsDryRun = true
	})

	summary := eng.RunAllRules(context.Background(), true)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.QueueInserts)

	pending, err := queue.NewStore(db).Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "movie-old", pending[0].ItemKey)
	assert.True(t, pending[0].IsDryRun)

	// Nothing was touched on the media server
	assert.Empty(t, server.deleted)
}

func TestRunAllRulesIsolatesFailures(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(movieItem("movie-old", "Old Movie", 60))
	eng := newTestEngine(t, db, server, &fakeOrch{})

	apptest.CreateRule(db, func(r *models.Rule) {
		r.Name = "broken"
		r.Priority = 10
		r.Actions = jsonPtr(`[{"type":"format_disk"}]`)
	})
	agingRule(db)

	summary := eng.RunAllRules(context.Background(), false)

	assert.Equal(t, 2, summary.RulesRun)
	assert.Equal(t, 1, summary.RulesFailed)
	// The healthy rule still matched and queued
	assert.Equal(t, 1, summary.QueueInserts)
	require.Len(t, summary.Results, 2)
	assert.NotEmpty(t, summary.Results[0].Error)
	assert.Empty(t, summary.Results[1].Error)
}

func TestEvaluateRuleHonorsExclusions(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(movieItem("movie-old", "Old Movie", 60))
	eng := newTestEngine(t, db, server, &fakeOrch{})
	agingRule(db)

	apptest.CreateExclusion(db, models.ExclusionKindManual, "movie-old")

	summary := eng.RunAllRules(context.Background(), false)
	assert.Equal(t, 0, summary.TotalMatches)
}

func TestEvaluateRuleEmptyConditionsMatchEverything(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(
		movieItem("movie-a", "A", 60),
		movieItem("movie-b", "B", 5),
	)
	eng := newTestEngine(t, db, server, &fakeOrch{})
	agingRule(db, func(r *models.Rule) { r.Conditions = nil })

	summary := eng.RunAllRules(context.Background(), false)
	assert.Equal(t, 2, summary.TotalMatches)
}

func TestEvaluateRuleLibraryFilter(t *testing.T) {
	db := apptest.TestDB(t)
	server := &fakeServer{
		libraries: []mediaserver.Library{
			{ID: "1", Title: "Movies", Kind: models.MediaKindMovies},
			{ID: "2", Title: "Archive", Kind: models.MediaKindMovies},
		},
		items: map[string][]mediaserver.Item{
			"1": {movieItem("movie-main", "Main", 60)},
			"2": {movieItem("movie-archive", "Archive", 60)},
		},
		watchlist: map[string]bool{},
	}
	eng := newTestEngine(t, db, server, &fakeOrch{})
	agingRule(db, func(r *models.Rule) { r.LibraryIDs = jsonPtr(`["2"]`) })

	summary := eng.RunAllRules(context.Background(), false)
	assert.Equal(t, 1, summary.TotalMatches)

	pending, err := queue.NewStore(db).Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "movie-archive", pending[0].ItemKey)
}

func TestEvaluateRuleRejectsNonSmartSeasons(t *testing.T) {
	db := apptest.TestDB(t)
	eng := newTestEngine(t, db, movieServer(), &fakeOrch{})

	rule := apptest.CreateRule(db, func(r *models.Rule) {
		r.Name = "season cleanup"
		r.TargetKind = models.MediaKindSeasons
		r.SmartMode = false
	})

	_, err := eng.EvaluateRule(context.Background(), rule, false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smart mode")
}

func TestRunAllRulesCountsOnlyNewInserts(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(movieItem("movie-old", "Old Movie", 60))
	eng := newTestEngine(t, db, server, &fakeOrch{})
	agingRule(db)
	ctx := context.Background()

	summary := eng.RunAllRules(ctx, false)
	assert.Equal(t, 1, summary.TotalMatches)
	assert.Equal(t, 1, summary.QueueInserts)

	// A second pass re-matches the item but its live entry already exists
	summary = eng.RunAllRules(ctx, false)
	assert.Equal(t, 1, summary.TotalMatches)
	assert.Equal(t, 0, summary.QueueInserts)

	pending, err := queue.NewStore(db).Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRevalidateOutcomes(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(movieItem("movie-old", "Old Movie", 60))
	eng := newTestEngine(t, db, server, &fakeOrch{})
	rule := agingRule(db)
	ctx := context.Background()

	item := apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "movie-old"
	})

	// Still matching
	outcome, err := eng.Revalidate(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeValid, outcome)

	// Deleted rule makes the decision stale
	orphan := apptest.CreateQueueItem(db, 9999, func(i *models.QueueItem) {
		i.ItemKey = "movie-old"
	})
	outcome, err = eng.Revalidate(ctx, orphan)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeStale, outcome)

	// Vanished item
	gone := apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "movie-vanished"
	})
	outcome, err = eng.Revalidate(ctx, gone)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeGone, outcome)

	// A server-side watchlist add after the match protects the item
	server.watchlist["movie-old"] = true
	outcome, err = eng.Revalidate(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeProtected, outcome)
	server.watchlist["movie-old"] = false

	// A new exclusion protects too
	exclusion := apptest.CreateExclusion(db, models.ExclusionKindManual, "movie-old")
	outcome, err = eng.Revalidate(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeProtected, outcome)
	require.NoError(t, store.NewExclusions(db).Delete(ctx, exclusion.ID))

	// Conditions that stopped matching make the decision stale
	fresh := time.Now().AddDate(0, 0, -1)
	server.items["1"][0].LastViewedAt = &fresh
	outcome, err = eng.Revalidate(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeStale, outcome)
}

func TestRevalidateDefersWhenServerWatchlistUnreachable(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(movieItem("movie-old", "Old Movie", 60))
	eng := newTestEngine(t, db, server, &fakeOrch{})
	rule := agingRule(db)
	ctx := context.Background()

	queued := apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "movie-old"
	})

	// An unreachable watchlist is not an absent watchlist
	server.watchlistErr = errors.ExternalServiceError("plex", "watchlist unreachable", nil)
	outcome, err := eng.Revalidate(ctx, queued)
	require.Error(t, err)
	assert.Equal(t, queue.OutcomeDeferred, outcome)

	// The same item settles normally once the server recovers
	server.watchlistErr = nil
	outcome, err = eng.Revalidate(ctx, queued)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeValid, outcome)
}

func TestExecuteDefersWhenWatchlistStoreUnreadable(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(movieItem("movie-old", "Old Movie", 60))
	eng := newTestEngine(t, db, server, &fakeOrch{})
	rule := agingRule(db)

	queued := apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "movie-old"
	})

	// A failed protection read must never read as "not protected"
	require.NoError(t, db.Migrator().DropTable(&models.WatchlistEntry{}))

	outcome, err := eng.Execute(context.Background(), queued)
	require.Error(t, err)
	assert.Equal(t, queue.OutcomeDeferred, outcome)
	assert.Empty(t, server.deleted)
}

func TestExecuteRunsDestructiveActions(t *testing.T) {
	db := apptest.TestDB(t)

	item := movieItem("movie-old", "Old Movie", 60)
	item.IDs.TMDB = 603
	server := movieServer(item)
	orch := &fakeOrch{
		movies: map[int]*orchestrator.Record{
			603: {ID: 42, ExternalID: 603, SizeOnDisk: 4096},
		},
	}
	eng := newTestEngine(t, db, server, orch)

	rule := agingRule(db, func(r *models.Rule) {
		r.Actions = jsonPtr(`[{"type":"add_to_queue"},{"type":"unmonitor"},{"type":"delete_files"},{"type":"remove_from_library"}]`)
	})
	queued := apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "movie-old"
	})

	outcome, err := eng.Execute(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeExecuted, outcome)

	assert.Equal(t, []int{42}, orch.unmonitored)
	assert.Equal(t, []int{42}, orch.deletedMovies)
	assert.Equal(t, []string{"movie-old"}, server.deleted)
}

func TestExecuteTagAction(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(movieItem("movie-old", "Old Movie", 60))
	eng := newTestEngine(t, db, server, &fakeOrch{})

	rule := agingRule(db, func(r *models.Rule) {
		r.Actions = jsonPtr(`[{"type":"add_to_queue"},{"type":"tag","params":{"label":"leaving-soon"}}]`)
	})
	queued := apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "movie-old"
	})

	outcome, err := eng.Execute(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeExecuted, outcome)
	assert.Equal(t, "leaving-soon", server.labels["movie-old"])
}

func TestExecuteProtectedItemSkipsActions(t *testing.T) {
	db := apptest.TestDB(t)
	server := movieServer(movieItem("movie-old", "Old Movie", 60))
	server.watchlist["movie-old"] = true
	eng := newTestEngine(t, db, server, &fakeOrch{})

	rule := agingRule(db)
	queued := apptest.CreateQueueItem(db, rule.ID, func(i *models.QueueItem) {
		i.ItemKey = "movie-old"
	})

	outcome, err := eng.Execute(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeProtected, outcome)
	assert.Empty(t, server.deleted)
}
