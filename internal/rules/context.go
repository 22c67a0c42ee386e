package rules

import (
	"context"
	"strings"
	"time"

	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/mediaserver"
	"github.com/sybethiesant/flexerr/internal/models"
	"github.com/sybethiesant/flexerr/internal/orchestrator"
)

// Context carries the derived facts conditions may reference alongside the
// item snapshot. Built once per item per evaluation; read-only afterwards.
type Context struct {
	OnWatchlist    bool
	WatchlistUsers []string

	// WatchlistUnknown marks a failed watchlist read. Evaluation degrades
	// to no membership, but the commit phase must not treat the signal as
	// a confirmed absence.
	WatchlistUnknown bool

	// MatchTier names the matcher strategy that resolved the watchlist
	// membership, for observability
	MatchTier string

	Orchestrator *orchestrator.Record

	// LastActivity is the most recent view across all episodes, populated
	// for show-level evaluation
	LastActivity *time.Time

	// Now pins evaluation time; zero means wall clock
	Now time.Time
}

func (c *Context) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// WatchlistStore exposes the internally-synced watchlist entries. Entries
// are written by the sync service; the engine only reads them.
type WatchlistStore interface {
	ActiveEntries(ctx context.Context) ([]models.WatchlistEntry, error)
}

// watchlistMatcher is one strategy in the ranked identity-matching chain.
// Strategies run in declaration order; a later tier is consulted only when
// every earlier tier found nothing.
type watchlistMatcher struct {
	name  string
	match func(item *mediaserver.Item, rec *orchestrator.Record, entry *models.WatchlistEntry) bool
}

var watchlistMatchers = []watchlistMatcher{
	{
		// Exact external-ID match through the orchestrator record
		name: "orchestrator_id",
		match: func(_ *mediaserver.Item, rec *orchestrator.Record, entry *models.WatchlistEntry) bool {
			if rec == nil || rec.ExternalID == 0 {
				return false
			}
			if entry.TMDBID != nil && *entry.TMDBID == rec.ExternalID {
				return true
			}
			return entry.TVDBID != nil && *entry.TVDBID == rec.ExternalID
		},
	},
	{
		// External-ID match via the media server's own identifiers
		name: "server_guid",
		match: func(item *mediaserver.Item, _ *orchestrator.Record, entry *models.WatchlistEntry) bool {
			if entry.ItemKey != nil && *entry.ItemKey == item.Key {
				return true
			}
			if entry.TMDBID != nil && item.IDs.TMDB != 0 && *entry.TMDBID == item.IDs.TMDB {
				return true
			}
			return entry.TVDBID != nil && item.IDs.TVDB != 0 && *entry.TVDBID == item.IDs.TVDB
		},
	},
	{
		name: "title_year",
		match: func(item *mediaserver.Item, _ *orchestrator.Record, entry *models.WatchlistEntry) bool {
			return entry.Year != 0 && entry.Year == item.Year && entry.Title == item.Title
		},
	},
	{
		name: "title",
		match: func(item *mediaserver.Item, _ *orchestrator.Record, entry *models.WatchlistEntry) bool {
			return strings.EqualFold(entry.Title, item.Title)
		},
	},
}

// ContextBuilder enriches raw items with the derived facts conditions need.
// All lookups are read-only against the collaborators.
type ContextBuilder struct {
	server    mediaserver.Adapter
	orch      orchestrator.Adapter
	watchlist WatchlistStore
	logger    *logger.Logger
}

// NewContextBuilder creates a context builder
func NewContextBuilder(server mediaserver.Adapter, orch orchestrator.Adapter, watchlist WatchlistStore, log *logger.Logger) *ContextBuilder {
	if log == nil {
		log = logger.Default()
	}
	return &ContextBuilder{
		server:    server,
		orch:      orch,
		watchlist: watchlist,
		logger:    log,
	}
}

// Build assembles the evaluation context for one item. Collaborator
// failures degrade to missing facts rather than aborting: a context with a
// nil orchestrator record is still evaluable.
func (b *ContextBuilder) Build(ctx context.Context, item *mediaserver.Item, targetKind models.MediaKind) (*Context, error) {
	evalCtx := &Context{}

	evalCtx.Orchestrator = b.lookupOrchestrator(ctx, item, targetKind)

	if b.watchlist != nil {
		entries, err := b.watchlist.ActiveEntries(ctx)
		if err != nil {
			b.logger.Error("failed to load watchlist entries", err)
			evalCtx.WatchlistUnknown = true
		} else {
			evalCtx.WatchlistUsers, evalCtx.MatchTier = matchWatchlist(item, evalCtx.Orchestrator, entries)
			evalCtx.OnWatchlist = len(evalCtx.WatchlistUsers) > 0
		}
	}

	if targetKind == models.MediaKindShows || targetKind == models.MediaKindSeasons {
		evalCtx.LastActivity = b.lastActivity(ctx, item)
	}

	return evalCtx, nil
}

// lookupOrchestrator resolves the linked Radarr/Sonarr record. Not-found is
// an expected outcome, not an error: the link stays nil and the next pass
// may re-resolve it.
func (b *ContextBuilder) lookupOrchestrator(ctx context.Context, item *mediaserver.Item, targetKind models.MediaKind) *orchestrator.Record {
	if b.orch == nil {
		return nil
	}

	var (
		rec *orchestrator.Record
		err error
	)

	switch targetKind {
	case models.MediaKindMovies:
		if item.IDs.TMDB == 0 {
			return nil
		}
		rec, err = b.orch.FindMovie(ctx, item.IDs.TMDB)
	default:
		if item.IDs.TVDB == 0 {
			return nil
		}
		rec, err = b.orch.FindSeries(ctx, item.IDs.TVDB)
	}

	if err != nil {
		if !errors.IsNotFound(err) {
			b.logger.WithFields(map[string]interface{}{
				"item": item.Key,
			}).Error("orchestrator lookup failed", err)
		}
		return nil
	}

	return rec
}

// lastActivity finds the most recent view across a show's episodes
func (b *ContextBuilder) lastActivity(ctx context.Context, item *mediaserver.Item) *time.Time {
	children, err := b.server.Children(ctx, item.Key)
	if err != nil {
		b.logger.WithFields(map[string]interface{}{
			"item": item.Key,
		}).Error("failed to list children for activity lookup", err)
		return nil
	}

	var last *time.Time
	for i := range children {
		viewed := children[i].LastViewedAt
		if viewed == nil {
			continue
		}
		if last == nil || viewed.After(*last) {
			last = viewed
		}
	}
	return last
}

// matchWatchlist runs the ranked matcher chain and returns the matching
// users plus the name of the tier that found them
func matchWatchlist(item *mediaserver.Item, rec *orchestrator.Record, entries []models.WatchlistEntry) ([]string, string) {
	for _, matcher := range watchlistMatchers {
		var users []string
		for i := range entries {
			if !entries[i].Active {
				continue
			}
			if matcher.match(item, rec, &entries[i]) {
				users = append(users, entries[i].UserID)
			}
		}
		if len(users) > 0 {
			return users, matcher.name
		}
	}
	return nil, ""
}
