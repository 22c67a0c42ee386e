package rules

import (
	"math"
	"time"

	"github.com/sybethiesant/flexerr/internal/mediaserver"
)

// Field identifies a condition operand. Fields resolve against the item
// snapshot or the evaluation context, never against global state.
type Field string

const (
	FieldTitle      Field = "title"
	FieldYear       Field = "year"
	FieldRating     Field = "rating"
	FieldGenre      Field = "genre"
	FieldLabel      Field = "label"
	FieldCollection Field = "collection"
	FieldIs4K       Field = "is_4k"
	FieldFileSizeGB Field = "file_size_gb"

	FieldWatched          Field = "watched"
	FieldViewCount        Field = "view_count"
	FieldDaysSinceWatched Field = "days_since_watched"
	FieldDaysSinceAdded   Field = "days_since_added"

	FieldOnWatchlist        Field = "on_watchlist"
	FieldMonitored          Field = "monitored"
	FieldInOrchestrator     Field = "in_orchestrator"
	FieldDaysSinceRequested Field = "days_since_requested"
	FieldDaysSinceActivity  Field = "days_since_activity"
)

// Resolver produces a field's value from the item snapshot and context
type Resolver func(item *mediaserver.Item, evalCtx *Context) interface{}

// fieldRegistry maps every known field to its resolver. Lookups through
// ResolveField; an absent entry is the explicit unknown-field variant.
var fieldRegistry = map[Field]Resolver{
	FieldTitle: func(item *mediaserver.Item, _ *Context) interface{} {
		return item.Title
	},
	FieldYear: func(item *mediaserver.Item, _ *Context) interface{} {
		return float64(item.Year)
	},
	FieldRating: func(item *mediaserver.Item, _ *Context) interface{} {
		return item.Rating
	},
	FieldGenre: func(item *mediaserver.Item, _ *Context) interface{} {
		return item.Genres
	},
	FieldLabel: func(item *mediaserver.Item, _ *Context) interface{} {
		return item.Labels
	},
	FieldCollection: func(item *mediaserver.Item, _ *Context) interface{} {
		return item.Collections
	},
	FieldIs4K: func(item *mediaserver.Item, _ *Context) interface{} {
		return item.Is4K()
	},
	FieldFileSizeGB: func(item *mediaserver.Item, evalCtx *Context) interface{} {
		size := item.FileSize
		if size == 0 && evalCtx.Orchestrator != nil {
			size = evalCtx.Orchestrator.SizeOnDisk
		}
		return float64(size) / (1024 * 1024 * 1024)
	},

	FieldWatched: func(item *mediaserver.Item, _ *Context) interface{} {
		return item.Watched()
	},
	FieldViewCount: func(item *mediaserver.Item, _ *Context) interface{} {
		return float64(item.ViewCount)
	},
	FieldDaysSinceWatched: func(item *mediaserver.Item, evalCtx *Context) interface{} {
		return daysSince(item.LastViewedAt, evalCtx.now())
	},
	FieldDaysSinceAdded: func(item *mediaserver.Item, evalCtx *Context) interface{} {
		t := item.AddedAt
		return daysSince(&t, evalCtx.now())
	},

	FieldOnWatchlist: func(_ *mediaserver.Item, evalCtx *Context) interface{} {
		return evalCtx.OnWatchlist
	},
	FieldMonitored: func(_ *mediaserver.Item, evalCtx *Context) interface{} {
		return evalCtx.Orchestrator != nil && evalCtx.Orchestrator.Monitored
	},
	FieldInOrchestrator: func(_ *mediaserver.Item, evalCtx *Context) interface{} {
		return evalCtx.Orchestrator != nil
	},
	FieldDaysSinceRequested: func(item *mediaserver.Item, evalCtx *Context) interface{} {
		return daysSince(item.RequestedAt, evalCtx.now())
	},
	FieldDaysSinceActivity: func(item *mediaserver.Item, evalCtx *Context) interface{} {
		last := evalCtx.LastActivity
		if last == nil {
			last = item.LastViewedAt
		}
		return daysSince(last, evalCtx.now())
	},
}

// ResolveField resolves a field against the item and context. The second
// return is false for unknown fields; callers decide the fallback policy.
func ResolveField(field Field, item *mediaserver.Item, evalCtx *Context) (interface{}, bool) {
	resolver, ok := fieldRegistry[field]
	if !ok {
		return nil, false
	}
	return resolver(item, evalCtx), true
}

// daysSince maps "never happened" to +Inf so greater_than comparisons treat
// unwatched content as arbitrarily old.
func daysSince(t *time.Time, now time.Time) float64 {
	if t == nil || t.IsZero() {
		return math.Inf(1)
	}
	return now.Sub(*t).Hours() / 24
}
